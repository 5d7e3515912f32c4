package main

import (
	"errors"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/jvlm/jvlm/pkg/runner"
)

// CodegenTestSpec represents a single compile-only codegen test case
type CodegenTestSpec struct {
	Name         string   `yaml:"name"`
	Input        string   `yaml:"input"`
	Expect       []string `yaml:"expect"`        // Strings that must appear in the listing
	ExpectOrder  []string `yaml:"expect_order"`  // Strings that must appear in this order
	ExpectUnique []string `yaml:"expect_unique"` // Strings that must appear exactly once
	ExpectNot    []string `yaml:"expect_not"`    // Strings that must NOT appear
	Skip         string   `yaml:"skip,omitempty"`
}

// CodegenTestFile represents the codegen.yaml file structure
type CodegenTestFile struct {
	Tests []CodegenTestSpec `yaml:"tests"`
}

// TestCodegenSuite checks -dcode listings against the codegen.yaml specs
func TestCodegenSuite(t *testing.T) {
	data, err := os.ReadFile("../../testdata/codegen.yaml")
	if err != nil {
		t.Skipf("codegen.yaml not found: %v", err)
	}

	var testFile CodegenTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse codegen.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			input := writeInput(t, "test.ll", tc.Input)
			out, errOut, err := runCommand(t, "--dcode", input)
			if err != nil {
				t.Fatalf("dcode failed: %v\nstderr: %s", err, errOut)
			}

			for _, s := range tc.Expect {
				if !strings.Contains(out, s) {
					t.Errorf("listing missing %q\n%s", s, out)
				}
			}
			offset := 0
			for _, s := range tc.ExpectOrder {
				idx := strings.Index(out[offset:], s)
				if idx < 0 {
					t.Errorf("listing missing %q in order\n%s", s, out)
					break
				}
				offset += idx + len(s)
			}
			for _, s := range tc.ExpectUnique {
				if n := strings.Count(out, s); n != 1 {
					t.Errorf("expected %q exactly once, found it %d times\n%s", s, n, out)
				}
			}
			for _, s := range tc.ExpectNot {
				if strings.Contains(out, s) {
					t.Errorf("listing must not contain %q\n%s", s, out)
				}
			}
		})
	}
}

// E2EJavaTestSpec represents a single end-to-end execution test case
type E2EJavaTestSpec struct {
	Name           string `yaml:"name"`
	Input          string `yaml:"input"`
	Entry          string `yaml:"entry"`
	Args           string `yaml:"args"`
	Timeout        string `yaml:"timeout"`
	Expect         string `yaml:"expect"`          // Exact printed value, whitespace-trimmed
	ExpectContains string `yaml:"expect_contains"` // Substring of combined stdout+stderr
	ExpectTimeout  bool   `yaml:"expect_timeout"`  // The run must exceed its budget
	ExpectCrash    bool   `yaml:"expect_crash"`    // The JVM must exit non-zero
	Skip           string `yaml:"skip,omitempty"`
}

// E2EJavaTestFile represents the e2e_java.yaml file structure
type E2EJavaTestFile struct {
	Tests []E2EJavaTestSpec `yaml:"tests"`
}

// TestE2EJavaSuite compiles and executes programs on the host JVM
func TestE2EJavaSuite(t *testing.T) {
	if _, err := runner.FindJava(); err != nil {
		t.Skip("java not found in PATH")
	}

	data, err := os.ReadFile("../../testdata/e2e_java.yaml")
	if err != nil {
		t.Skipf("e2e_java.yaml not found: %v", err)
	}

	var testFile E2EJavaTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse e2e_java.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			input := writeInput(t, "test.ll", tc.Input)
			args := []string{"run", input, "--entry", tc.Entry}
			if tc.Args != "" {
				args = append(args, "--args", tc.Args)
			}
			if tc.Timeout != "" {
				args = append(args, "--timeout", tc.Timeout)
			}

			out, errOut, err := runCommand(t, args...)
			combined := out + errOut

			if tc.ExpectTimeout {
				if !errors.Is(err, errTimedOut) {
					t.Fatalf("expected a timeout, got %v\noutput: %s", err, combined)
				}
				return
			}
			if tc.ExpectCrash {
				if err == nil || errors.Is(err, errTimedOut) {
					t.Fatalf("expected a crash, got %v\noutput: %s", err, combined)
				}
			} else if err != nil {
				t.Fatalf("run failed: %v\nstderr: %s", err, errOut)
			}

			if tc.Expect != "" {
				if got := strings.TrimSpace(out); got != tc.Expect {
					t.Errorf("printed %q, want %q", got, tc.Expect)
				}
			}
			if tc.ExpectContains != "" && !strings.Contains(combined, tc.ExpectContains) {
				t.Errorf("output missing %q\n%s", tc.ExpectContains, combined)
			}
		})
	}
}
