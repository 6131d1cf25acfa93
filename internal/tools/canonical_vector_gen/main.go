package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"emergentminds.org/covenant/canonical"
)

// Regenerates the .canon expectation next to every .json input in the
// canonical conformance corpus and prints the sha256 of each result.
func main() {
	dir := flag.String("dir", filepath.Join("testdata", "conformance", "canonical"), "corpus directory")
	check := flag.Bool("check", false, "compare against existing .canon files instead of writing")
	flag.Parse()

	inputs, err := filepath.Glob(filepath.Join(*dir, "*.json"))
	if err != nil {
		panic(err)
	}
	mismatches := 0
	for _, in := range inputs {
		src, err := os.ReadFile(in)
		if err != nil {
			panic(err)
		}
		canon, err := canonical.Transform(src)
		if err != nil {
			panic(fmt.Errorf("%s: %w", in, err))
		}
		out := strings.TrimSuffix(in, ".json") + ".canon"
		if *check {
			want, err := os.ReadFile(out)
			if err != nil {
				panic(err)
			}
			if string(want) != string(canon) {
				fmt.Printf("MISMATCH %s\n", filepath.Base(out))
				mismatches++
			}
			continue
		}
		if err := os.WriteFile(out, canon, 0o644); err != nil {
			panic(err)
		}
		sum, err := canonical.HashHex(canonicalValue(src))
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s sha256=%s\n", filepath.Base(out), sum)
	}
	if mismatches > 0 {
		os.Exit(1)
	}
}

func canonicalValue(src []byte) any {
	v, err := canonical.Decode(src)
	if err != nil {
		panic(err)
	}
	return v
}
