// Package main is the entry point for the chemcalc command.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/chemcalc/pkg/api"
	grpcapi "github.com/lemonberrylabs/chemcalc/pkg/api/grpc"
	"github.com/lemonberrylabs/chemcalc/pkg/config"
	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/hostexpr"
	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/store"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the configuration shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "chemcalc",
		Short:         "Laboratory formula interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.Version = version + " (commit=" + commit + ", built=" + date + ")"
	root.SetVersionTemplate("chemcalc version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to chemcalc.toml (env CHEMCALC_CONFIG)")
	pf.String("log-level", "", "Log level: debug, info, warn or error (env CHEMCALC_LOG_LEVEL)")
	pf.String("log-format", "", "Log format: text or json (env CHEMCALC_LOG_FORMAT)")
	pf.String("resolution", "", "Function resolution: builtins or caller-first (env CHEMCALC_RESOLUTION)")
	pf.StringP("output", "o", "", "Output format: yaml or json (env CHEMCALC_OUTPUT)")

	root.AddCommand(
		a.runCmd(),
		a.detectCmd(),
		a.convertCmd(),
		a.tokensCmd(),
		a.functionsCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads the configuration file and environment, applies flags on top
// and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	var err error
	if path != "" {
		a.cfg, err = config.Load(path)
	} else {
		a.cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		a.cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		a.cfg.Log.Format = v
	}
	if v, _ := cmd.Flags().GetString("resolution"); v != "" {
		a.cfg.Resolution = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		a.cfg.Output = v
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.logger = a.cfg.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Interpret a program and print the resulting variables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			scope, err := loadScope(cmd)
			if err != nil {
				return err
			}

			in := runtime.New(source,
				runtime.WithScope(scope),
				runtime.WithResolution(a.cfg.FunctionResolution()),
				runtime.WithLogger(a.logger),
			)
			result, err := in.Interpret()
			if err != nil {
				if result != nil {
					a.logger.Debug("bindings before failure", "variables", result.Names())
				}
				return &sourceError{source: in.Source(), err: err}
			}
			return writeOutput(cmd.OutOrStdout(), a.cfg.Output, result)
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func (a *app) detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [file]",
		Short: "List the variables a program uses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args)
			if err != nil {
				return err
			}

			d := formula.NewDetector(formula.NewLexer(source))
			detect := d.Variables
			if special, _ := cmd.Flags().GetBool("special"); special {
				detect = d.Special
			}
			vars, err := detect()
			if err != nil {
				return &sourceError{source: source, err: err}
			}
			if vars == nil {
				vars = []formula.Variable{}
			}
			return writeOutput(cmd.OutOrStdout(), a.cfg.Output, vars)
		},
	}
	cmd.Flags().Bool("special", false, "Only list array, date and time variables")
	return cmd
}

func (a *app) convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Rewrite a program into host expression syntax",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			expression, err := formula.ConvertExpression(source)
			if err != nil {
				return &sourceError{source: source, err: err}
			}

			if eval, _ := cmd.Flags().GetBool("eval"); !eval {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), expression)
				return err
			}

			scope, err := loadScope(cmd)
			if err != nil {
				return err
			}
			result, err := hostexpr.Evaluate(expression, scope, stdlib.NewRegistry(stdlib.WithLogger(a.logger)))
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), a.cfg.Output, map[string]any{
				"expression": expression,
				"result":     result.ToGoValue(),
			})
		},
	}
	cmd.Flags().Bool("eval", false, "Evaluate the converted expression")
	addScopeFlags(cmd)
	return cmd
}

func (a *app) tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens [file]",
		Short: "Print the token stream of a program",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for tok, err := range formula.NewDetector(formula.NewLexer(source)).Tokens() {
				if err != nil {
					return &sourceError{source: source, err: err}
				}
				fmt.Fprintf(w, "%d:%d\t%s\t%q\n", tok.Pos.Line, tok.Pos.Column, tok.Type, tok.Value)
			}
			return nil
		},
	}
}

func (a *app) functionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the built-in functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range stdlib.NewRegistry().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetInt("port"); v != 0 {
				a.cfg.Server.Port = v
			}
			if v, _ := cmd.Flags().GetInt("grpc-port"); v != 0 {
				a.cfg.Server.GRPCPort = v
			}
			if v, _ := cmd.Flags().GetString("host"); v != "" {
				a.cfg.Server.Host = v
			}
			if v, _ := cmd.Flags().GetString("programs-dir"); v != "" {
				a.cfg.Server.ProgramsDir = v
			}
			return a.serve()
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port (default 8790, env CHEMCALC_PORT)")
	cmd.Flags().Int("grpc-port", 0, "gRPC server port (default 8791, env CHEMCALC_GRPC_PORT)")
	cmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env CHEMCALC_HOST)")
	cmd.Flags().String("programs-dir", "", "Directory of .calc/.txt programs to deploy (env CHEMCALC_PROGRAMS_DIR)")
	return cmd
}

func (a *app) serve() error {
	s := store.New()
	server := api.New(s,
		api.WithLogger(a.logger),
		api.WithResolution(a.cfg.FunctionResolution()),
		api.WithTimeouts(a.cfg.Server.ReadTimeout.Duration, a.cfg.Server.WriteTimeout.Duration),
	)

	if dir := a.cfg.Server.ProgramsDir; dir != "" {
		if _, err := server.LoadDir(dir); err != nil {
			a.logger.Warn("failed to load programs directory", "dir", dir, "error", err)
		}
	}

	grpcServer := grpcapi.New(s,
		grpcapi.WithLogger(a.logger),
		grpcapi.WithResolution(a.cfg.FunctionResolution()),
	)
	go func() {
		grpcAddr := a.cfg.GRPCAddr()
		a.logger.Info("gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(grpcAddr); err != nil {
			a.logger.Error("gRPC server error", "error", err)
			if err := server.Shutdown(); err != nil {
				a.logger.Error("error during shutdown", "error", err)
			}
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		a.logger.Info("shutting down")
		grpcServer.GracefulStop()
		if err := server.Shutdown(); err != nil {
			a.logger.Error("error during shutdown", "error", err)
		}
	}()

	addr := a.cfg.Addr()
	a.logger.Info("chemcalc listening", "addr", addr, "resolution", a.cfg.Resolution, "version", version)
	return server.Listen(addr)
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("scope", "", "YAML or JSON file with the initial variables")
	cmd.Flags().StringArray("set", nil, "Set a variable, name=value (repeatable)")
}

// readSource reads the program from the named file, or from stdin when no
// file or "-" is given.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}
	return string(data), nil
}

// loadScope builds the initial scope from --scope and then --set.
func loadScope(cmd *cobra.Command) (*runtime.Scope, error) {
	scope := runtime.NewScope()
	if path, _ := cmd.Flags().GetString("scope"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading scope: %w", err)
		}
		if err := yaml.Unmarshal(data, scope); err != nil {
			return nil, fmt.Errorf("parsing scope %s: %w", path, err)
		}
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, want name=value", set)
		}
		scope.Set(name, parseSetValue(raw))
	}
	return scope, nil
}

// parseSetValue reads a number with either decimal separator, or falls back
// to a string.
func parseSetValue(raw string) types.Value {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64); err == nil {
		return types.NewNumber(f)
	}
	return types.NewString(raw)
}

func writeOutput(w io.Writer, format string, v any) error {
	if strings.EqualFold(format, "json") {
		return writeJSON(w, v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// sourceError ties a formula error to the program text it refers to.
type sourceError struct {
	source string
	err    error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

func printError(w io.Writer, err error) {
	var se *sourceError
	if errors.As(err, &se) {
		fmt.Fprint(w, renderDiagnostic(w, formula.Diagnose(se.source, se.err)))
		return
	}
	fmt.Fprintln(w, newStyles(w).header.Render("error: "+err.Error()))
}
