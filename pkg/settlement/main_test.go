package settlement

import (
	"flag"
	"fmt"
	"os"
	"testing"
	"time"
)

var verbose = flag.Bool("verbose", false, "Enable verbose test output")

func TestMain(m *testing.M) {
	flag.Parse()

	started := time.Now()
	if *verbose {
		fmt.Println("Running settlement tests")
	}
	exitCode := m.Run()
	if *verbose {
		fmt.Printf("Settlement tests completed in %v\n", time.Since(started))
	}
	os.Exit(exitCode)
}
