package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
)

// captureOutput runs fn with stdout redirected and returns what it printed.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	saved := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = saved }()

	done := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()

	fnErr := fn()
	w.Close()
	return string(<-done), fnErr
}

// assertJSON decodes output as a JSON object.
func assertJSON(t *testing.T, output string) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
	return result
}

func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\nGot: %s", want, output)
		}
	}
}

// resetSimulateFlags gives every test case the same small heap.
func resetSimulateFlags() {
	verbose, quiet, jsonOut = false, false, false
	simCycles, simRoots, simWorkers = 2, 32, 2
	simSemiPages, simArenaPages, simOldPages = 2, 64, 16
	simLargeEvery, simSites, simSampleRate = 0, 4, 0
	simStoreRate, simDropRate = 0.05, 0.25
	simSeed = 1
	simSharedStrings, simNoShortcut, simVerify = false, false, false
}
