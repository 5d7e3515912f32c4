package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jvlm/jvlm/pkg/compile"
	"github.com/jvlm/jvlm/pkg/jar"
	"github.com/jvlm/jvlm/pkg/launch"
	"github.com/jvlm/jvlm/pkg/options"
	"github.com/jvlm/jvlm/pkg/runner"
	"github.com/llir/llvm/asm"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// launcherClass is the synthesized entry point class.
const launcherClass = "Launcher"

// Debug flags for dumping intermediate forms
var (
	dLL   bool
	dSym  bool
	dCode bool
)

// Compile options
var (
	outputPath  string
	optionsPath string
)

// Link options
var linkOutput string

// Run options
var (
	runEntry   string
	runArgs    string
	runTimeout time.Duration
)

// errTimedOut marks a run that exceeded its wall-clock budget. It maps
// to exit code 124, matching timeout(1).
var errTimedOut = errors.New("run timed out")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	// Normalize llvm-style single-dash flags to double-dash for pflag compatibility
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errTimedOut) {
			return 124
		}
		return 1
	}
	return 0
}

// debugFlagNames lists all debug flags that should accept single-dash style
var debugFlagNames = []string{"dll", "dsym", "dcode"}

// normalizeFlags converts single-dash flags like -dcode to --dcode
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jvlm [file.ll]",
		Short: "jvlm compiles LLVM IR to JVM class files",
		Long: `jvlm lowers LLVM textual IR onto the JVM. Defined functions become
static methods on classes derived from their symbol names; declared
externs bridge to existing Java methods, constructors, and fields.
The compiled classes are packed into a jar.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			return doCompile(args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dLL, "dll", false, "Dump the parsed IR")
	rootCmd.Flags().BoolVar(&dSym, "dsym", false, "Dump the resolved symbol table")
	rootCmd.Flags().BoolVar(&dCode, "dcode", false, "Dump per-method bytecode listings")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output jar path")
	rootCmd.Flags().StringVar(&optionsPath, "options", "", "Path to jvlm.toml")

	linkCmd := &cobra.Command{
		Use:   "link -o out.jar in.jar...",
		Short: "Link jars into one archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doLink(args, errOut)
		},
	}
	linkCmd.Flags().StringVarP(&linkOutput, "output", "o", "", "Output jar path")
	rootCmd.AddCommand(linkCmd)

	runCmd := &cobra.Command{
		Use:   "run file.ll",
		Short: "Compile and execute on the host JVM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(args[0], out, errOut)
		},
	}
	runCmd.Flags().StringVar(&runEntry, "entry", "", "Dotted entry point, e.g. jvlm.intTest.intTest")
	runCmd.Flags().StringVar(&runArgs, "args", "", "Comma-separated integer arguments")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Second, "Wall-clock budget for the run")
	runCmd.Flags().StringVar(&optionsPath, "options", "", "Path to jvlm.toml")
	rootCmd.AddCommand(runCmd)

	return rootCmd
}

// compileFile parses and compiles one IR file
func compileFile(filename string, errOut io.Writer) (*compile.Result, error) {
	m, err := asm.ParseFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return nil, err
	}
	result, err := compile.Module(m)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return nil, err
	}
	return result, nil
}

// loadOptions resolves the build options for an input file: an explicit
// --options path wins, then the nearest jvlm.toml above the input,
// then defaults.
func loadOptions(filename string, errOut io.Writer) (*options.Options, error) {
	path := optionsPath
	if path == "" {
		path = options.Find(filename)
	}
	if path == "" {
		return &options.Options{}, nil
	}
	opts, err := options.Load(path)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return nil, err
	}
	return opts, nil
}

// doCompile compiles the file to a jar, or dumps intermediate forms
// when a debug flag is set
func doCompile(filename string, out, errOut io.Writer) error {
	result, err := compileFile(filename, errOut)
	if err != nil {
		return err
	}

	if dLL || dSym || dCode {
		return doDumps(filename, result, out, errOut)
	}

	opts, err := loadOptions(filename, errOut)
	if err != nil {
		return err
	}

	manifest := jar.Manifest{MainClass: opts.Output.MainClass}
	entries := classEntries(result)
	if opts.Launcher.Enabled {
		launcher, err := buildLauncher(result, opts.Launcher.Entry, opts.Launcher.Args, errOut)
		if err != nil {
			return err
		}
		entries = append(entries, launcher)
		if manifest.MainClass == "" {
			manifest.MainClass = launcherClass
		}
	}

	jarPath := outputPath
	if jarPath == "" {
		jarPath = opts.Output.Jar
	}
	if jarPath == "" {
		jarPath = jarOutputFilename(filename)
	}
	return writeJar(jarPath, manifest, entries, errOut)
}

// doDumps writes the requested debug dumps. The symbol table and code
// dumps also go to a sidecar file next to the input; the IR dump only
// goes to stdout since the input already is IR.
func doDumps(filename string, result *compile.Result, out, errOut io.Writer) error {
	if dLL {
		m, err := asm.ParseFile(filename)
		if err != nil {
			fmt.Fprintf(errOut, "jvlm: %v\n", err)
			return err
		}
		fmt.Fprint(out, m.String())
	}
	if dSym {
		if err := writeDump(symOutputFilename(filename), renderSymbols(result), out, errOut); err != nil {
			return err
		}
	}
	if dCode {
		if err := writeDump(codeOutputFilename(filename), renderCode(result), out, errOut); err != nil {
			return err
		}
	}
	return nil
}

// renderSymbols formats the resolved symbol table, one function per
// line: kind, class, member, descriptor
func renderSymbols(result *compile.Result) string {
	var sb strings.Builder
	for _, fn := range result.Functions {
		fmt.Fprintf(&sb, "%s %s.%s %s\n", fn.Kind, fn.Class, fn.Member, fn.Descriptor)
	}
	return sb.String()
}

// renderCode formats the bytecode listing of every compiled method
func renderCode(result *compile.Result) string {
	var sb strings.Builder
	for _, fn := range result.Functions {
		if !fn.Defined {
			continue
		}
		fmt.Fprintf(&sb, "%s.%s:%s\n", fn.Class, fn.Member, fn.Descriptor)
		for _, line := range fn.Listing {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// writeDump writes content to a sidecar file and to stdout
func writeDump(outputFilename, content string, out, errOut io.Writer) error {
	outFile, err := os.Create(outputFilename)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: error creating %s: %v\n", outputFilename, err)
		return err
	}
	defer outFile.Close()

	outFile.WriteString(content)
	fmt.Fprint(out, content)
	return nil
}

// classEntries turns compiled classes into jar entries
func classEntries(result *compile.Result) []jar.Entry {
	var entries []jar.Entry
	for _, c := range result.Classes {
		entries = append(entries, jar.Entry{Name: c.Name + ".class", Data: c.Bytes})
	}
	return entries
}

// buildLauncher synthesizes the launcher class for a dotted entry point
func buildLauncher(result *compile.Result, entry string, args []int64, errOut io.Writer) (jar.Entry, error) {
	if entry == "" {
		err := errors.New("no entry point given")
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return jar.Entry{}, err
	}
	fn, ok := result.Lookup(entry)
	if !ok {
		err := fmt.Errorf("entry %s is not a defined function", entry)
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return jar.Entry{}, err
	}
	target := launch.Target{Class: fn.Class, Member: fn.Member, Params: fn.Params, Ret: fn.Ret}
	data, err := launch.Main(launcherClass, target, args)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return jar.Entry{}, err
	}
	return jar.Entry{Name: launcherClass + ".class", Data: data}, nil
}

// writeJar creates the output jar on disk
func writeJar(jarPath string, manifest jar.Manifest, entries []jar.Entry, errOut io.Writer) error {
	outFile, err := os.Create(jarPath)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: error creating %s: %v\n", jarPath, err)
		return err
	}
	defer outFile.Close()

	if err := jar.Write(outFile, manifest, entries); err != nil {
		fmt.Fprintf(errOut, "jvlm: error writing %s: %v\n", jarPath, err)
		return err
	}
	return nil
}

// doLink merges input jars into one output jar
func doLink(inputs []string, errOut io.Writer) error {
	if linkOutput == "" {
		err := errors.New("link requires -o")
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return err
	}

	archives := make([][]byte, 0, len(inputs))
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			fmt.Fprintf(errOut, "jvlm: error reading %s: %v\n", in, err)
			return err
		}
		archives = append(archives, data)
	}

	outFile, err := os.Create(linkOutput)
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: error creating %s: %v\n", linkOutput, err)
		return err
	}
	defer outFile.Close()

	if err := jar.Link(outFile, archives...); err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return err
	}
	return nil
}

// doRun compiles the file, synthesizes a launcher, and executes it on
// the host JVM
func doRun(filename string, out, errOut io.Writer) error {
	result, err := compileFile(filename, errOut)
	if err != nil {
		return err
	}
	opts, err := loadOptions(filename, errOut)
	if err != nil {
		return err
	}

	entry := runEntry
	if entry == "" {
		entry = opts.Launcher.Entry
	}
	args := opts.Launcher.Args
	if runArgs != "" {
		args, err = parseArgs(runArgs)
		if err != nil {
			fmt.Fprintf(errOut, "jvlm: %v\n", err)
			return err
		}
	}

	launcher, err := buildLauncher(result, entry, args, errOut)
	if err != nil {
		return err
	}
	entries := append(classEntries(result), launcher)

	javaPath, err := runner.FindJava()
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: java not found on PATH\n")
		return err
	}

	jarDir, err := os.MkdirTemp("", "jvlm-run-")
	if err != nil {
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return err
	}
	defer os.RemoveAll(jarDir)

	jarPath := filepath.Join(jarDir, "run.jar")
	manifest := jar.Manifest{MainClass: launcherClass}
	if err := writeJar(jarPath, manifest, entries, errOut); err != nil {
		return err
	}

	res := runner.Run(context.Background(), runner.Options{
		Java:      javaPath,
		ClassPath: []string{jarPath},
		MainClass: launcherClass,
		Timeout:   runTimeout,
	})
	fmt.Fprint(out, res.Stdout)
	fmt.Fprint(errOut, res.Stderr)

	switch res.Outcome {
	case runner.TimedOut:
		fmt.Fprintf(errOut, "jvlm: run timed out after %s\n", runTimeout)
		return errTimedOut
	case runner.Crashed:
		err := fmt.Errorf("run crashed with exit code %d", res.ExitCode)
		fmt.Fprintf(errOut, "jvlm: %v\n", err)
		return err
	}
	return nil
}

// parseArgs splits a comma-separated list of integer literals
func parseArgs(s string) ([]int64, error) {
	var args []int64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad --args value %q", part)
		}
		args = append(args, v)
	}
	return args, nil
}

// jarOutputFilename returns the default output path: input.ll -> input.jar
func jarOutputFilename(filename string) string {
	ext := ".ll"
	if strings.HasSuffix(filename, ext) {
		return filename[:len(filename)-len(ext)] + ".jar"
	}
	return filename + ".jar"
}

// symOutputFilename returns the sidecar path for -dsym
func symOutputFilename(filename string) string {
	ext := ".ll"
	if strings.HasSuffix(filename, ext) {
		return filename[:len(filename)-len(ext)] + ".sym"
	}
	return filename + ".sym"
}

// codeOutputFilename returns the sidecar path for -dcode
func codeOutputFilename(filename string) string {
	ext := ".ll"
	if strings.HasSuffix(filename, ext) {
		return filename[:len(filename)-len(ext)] + ".code"
	}
	return filename + ".code"
}
