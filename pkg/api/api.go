// Package api implements the HTTP JSON API for interpreting, analysing and
// storing formula programs.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/hostexpr"
	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/store"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by handlers and interpreters.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResolution sets the function resolution policy for every run.
func WithResolution(r runtime.Resolution) Option {
	return func(s *Server) {
		s.resolution = r
	}
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// Server is the chemcalc API server.
type Server struct {
	app      *fiber.App
	store    *store.Store
	registry *stdlib.Registry

	resolution   runtime.Resolution
	logger       *slog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates a new API server.
func New(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		store:        s,
		logger:       slog.Default(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.registry = stdlib.NewRegistry(stdlib.WithLogger(srv.logger))

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           srv.readTimeout,
		WriteTimeout:          srv.writeTimeout,
	})

	// Stateless formula operations
	app.Post("/v1/interpret", srv.interpret)
	app.Post("/v1/detect", srv.detect)
	app.Post("/v1/convert", srv.convert)
	app.Get("/v1/functions", srv.listFunctions)

	// Programs API
	app.Post("/v1/programs", srv.createProgram)
	app.Get("/v1/programs", srv.listPrograms)
	app.Get("/v1/programs/:program", srv.getProgram)
	app.Patch("/v1/programs/:program", srv.updateProgram)
	app.Delete("/v1/programs/:program", srv.deleteProgram)

	// Runs API
	app.Post("/v1/programs/:program/runs", srv.createRun)
	app.Get("/v1/programs/:program/runs", srv.listRuns)
	app.Get("/v1/programs/:program/runs/:run", srv.getRun)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// --- Formula Handlers ---

type interpretRequest struct {
	Source string          `json:"source"`
	Scope  json.RawMessage `json:"scope"`
}

func (s *Server) interpret(c *fiber.Ctx) error {
	var req interpretRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Source == "" {
		return invalidArgument(c, "source is required")
	}
	initial, err := decodeScope(req.Scope)
	if err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid scope: %v", err))
	}

	scope, err := s.newInterpreter(req.Source, initial).Interpret()
	if err != nil {
		return formulaError(c, req.Source, err, scope)
	}
	return c.JSON(fiber.Map{"scope": scope})
}

type detectRequest struct {
	Source      string `json:"source"`
	SpecialOnly bool   `json:"specialOnly"`
}

func (s *Server) detect(c *fiber.Ctx) error {
	var req detectRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	d := formula.NewDetector(formula.NewLexer(req.Source))
	detect := d.Variables
	if req.SpecialOnly {
		detect = d.Special
	}
	vars, err := detect()
	if err != nil {
		return formulaError(c, req.Source, err, nil)
	}
	if vars == nil {
		vars = []formula.Variable{}
	}
	return c.JSON(fiber.Map{"variables": vars})
}

type convertRequest struct {
	Source   string          `json:"source"`
	Evaluate bool            `json:"evaluate"`
	Scope    json.RawMessage `json:"scope"`
}

func (s *Server) convert(c *fiber.Ctx) error {
	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	expression, err := formula.ConvertExpression(req.Source)
	if err != nil {
		return formulaError(c, req.Source, err, nil)
	}
	resp := fiber.Map{"expression": expression}
	if !req.Evaluate {
		return c.JSON(resp)
	}

	vars, err := decodeScope(req.Scope)
	if err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid scope: %v", err))
	}
	result, err := hostexpr.Evaluate(expression, vars, s.registry)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("evaluating %q: %v", expression, err))
	}
	resp["result"] = result
	return c.JSON(resp)
}

func (s *Server) listFunctions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"functions": s.registry.Names()})
}

// --- Program Handlers ---

type programRequest struct {
	Source      string `json:"source"`
	Description string `json:"description"`
}

func (s *Server) createProgram(c *fiber.Ctx) error {
	programID := c.Query("programId")
	if programID == "" {
		return invalidArgument(c, "programId query parameter is required")
	}

	var req programRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Source == "" {
		return invalidArgument(c, "source is required")
	}

	p, err := s.store.CreateProgram(programID, req.Source, req.Description)
	if err != nil {
		return s.storeError(c, req.Source, err)
	}
	s.logger.Info("program created", "program", p.Name, "revision", p.RevisionID)
	return c.JSON(programToJSON(p))
}

func (s *Server) getProgram(c *fiber.Ctx) error {
	p, err := s.store.GetProgram(store.ProgramName(c.Params("program")))
	if err != nil {
		return s.storeError(c, "", err)
	}
	return c.JSON(programToJSON(p))
}

func (s *Server) listPrograms(c *fiber.Ctx) error {
	programs := s.store.ListPrograms()

	items := make([]fiber.Map, len(programs))
	for i, p := range programs {
		items[i] = programToJSON(p)
	}
	return c.JSON(fiber.Map{"programs": items})
}

func (s *Server) updateProgram(c *fiber.Ctx) error {
	var req programRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	p, err := s.store.UpdateProgram(store.ProgramName(c.Params("program")), req.Source, req.Description)
	if err != nil {
		return s.storeError(c, req.Source, err)
	}
	return c.JSON(programToJSON(p))
}

func (s *Server) deleteProgram(c *fiber.Ctx) error {
	name := store.ProgramName(c.Params("program"))
	if err := s.store.DeleteProgram(name); err != nil {
		return s.storeError(c, "", err)
	}
	return c.JSON(fiber.Map{"name": name, "deleted": true})
}

// --- Run Handlers ---

type runRequest struct {
	Scope json.RawMessage `json:"scope"`
}

func (s *Server) createRun(c *fiber.Ctx) error {
	programName := store.ProgramName(c.Params("program"))

	var req runRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}
	initial, err := decodeScope(req.Scope)
	if err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid scope: %v", err))
	}

	p, err := s.store.GetProgram(programName)
	if err != nil {
		return s.storeError(c, "", err)
	}
	run, err := s.store.CreateRun(programName, initial.Clone())
	if err != nil {
		return s.storeError(c, "", err)
	}

	scope, runErr := s.newInterpreter(p.Source, initial).Interpret()
	if runErr != nil {
		s.logger.Info("run failed", "run", run.Name, "error", runErr)
		err = s.store.FailRun(run.Name, scope, runErr)
	} else {
		err = s.store.CompleteRun(run.Name, scope)
	}
	if err != nil {
		return s.storeError(c, "", err)
	}

	run, err = s.store.GetRun(run.Name)
	if err != nil {
		return s.storeError(c, "", err)
	}
	return c.JSON(runToJSON(run))
}

func (s *Server) getRun(c *fiber.Ctx) error {
	name := store.RunName(c.Params("program"), c.Params("run"))
	run, err := s.store.GetRun(name)
	if err != nil {
		return s.storeError(c, "", err)
	}
	return c.JSON(runToJSON(run))
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	programName := store.ProgramName(c.Params("program"))
	if _, err := s.store.GetProgram(programName); err != nil {
		return s.storeError(c, "", err)
	}
	runs := s.store.ListRuns(programName)

	items := make([]fiber.Map, len(runs))
	for i, run := range runs {
		items[i] = runToJSON(run)
	}
	return c.JSON(fiber.Map{"runs": items})
}

// --- Directory Loading ---

// LoadDir deploys every .calc and .txt file of dir as a program. The file
// name (sans extension, lower-cased) becomes the program ID. Files that
// cannot be deployed are logged and skipped.
func (s *Server) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading programs directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".calc" && ext != ".txt" {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		programID := strings.ToLower(base)
		if programID != base {
			s.logger.Warn("lowercased program ID", "program", programID, "file", name)
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("could not read program file", "file", name, "error", err)
			continue
		}

		p, err := s.store.CreateProgram(programID, string(data), "")
		if err != nil {
			s.logger.Warn("could not deploy program", "file", name, "error", err)
			continue
		}
		loaded++
		s.logger.Info("loaded program", "program", p.Name, "file", name)
	}

	s.logger.Info("programs directory loaded", "dir", dir, "count", loaded)
	return loaded, nil
}

// --- Helpers ---

func (s *Server) newInterpreter(source string, initial *runtime.Scope) *runtime.Interpreter {
	return runtime.New(source,
		runtime.WithScope(initial),
		runtime.WithRegistry(s.registry),
		runtime.WithResolution(s.resolution),
		runtime.WithLogger(s.logger),
	)
}

// decodeScope decodes an optional JSON object into a scope, keeping the
// document order of its keys.
func decodeScope(raw json.RawMessage) (*runtime.Scope, error) {
	scope := runtime.NewScope()
	if len(raw) == 0 || string(raw) == "null" {
		return scope, nil
	}
	if err := json.Unmarshal(raw, scope); err != nil {
		return nil, err
	}
	return scope, nil
}

func (s *Server) storeError(c *fiber.Ctx, source string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return errorJSON(c, fiber.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, store.ErrInvalidID):
		return invalidArgument(c, err.Error())
	}
	if _, ok := types.AsFormulaError(err); ok {
		return formulaError(c, source, err, nil)
	}
	return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL", err.Error())
}

func invalidArgument(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", message)
}

func errorJSON(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// formulaError reports a failed parse or evaluation. The bindings made
// before the failure are included when partial is non-nil.
func formulaError(c *fiber.Ctx, source string, err error, partial *runtime.Scope) error {
	body := fiber.Map{
		"code":    fiber.StatusBadRequest,
		"message": err.Error(),
		"status":  "INVALID_ARGUMENT",
	}
	if fe, ok := types.AsFormulaError(err); ok {
		body["tag"] = fe.Tag
		if fe.Pos.IsValid() {
			body["line"] = fe.Pos.Line
			body["column"] = fe.Pos.Column
		}
		if source != "" {
			body["diagnostic"] = formula.Diagnose(source, err)
		}
	}

	resp := fiber.Map{"error": body}
	if partial != nil {
		resp["scope"] = partial
	}
	return c.Status(fiber.StatusBadRequest).JSON(resp)
}

func programToJSON(p *store.Program) fiber.Map {
	vars := p.Variables
	if vars == nil {
		vars = []formula.Variable{}
	}
	return fiber.Map{
		"name":        p.Name,
		"description": p.Description,
		"revisionId":  p.RevisionID,
		"createTime":  p.CreateTime.Format(time.RFC3339),
		"updateTime":  p.UpdateTime.Format(time.RFC3339),
		"source":      p.Source,
		"variables":   vars,
	}
}

func runToJSON(run *store.Run) fiber.Map {
	result := fiber.Map{
		"name":              run.Name,
		"state":             run.State,
		"startTime":         run.StartTime.Format(time.RFC3339),
		"programRevisionId": run.ProgramRevisionID,
	}

	if run.Scope != nil && run.Scope.Len() > 0 {
		result["scope"] = run.Scope
	}
	if run.Result != nil {
		result["result"] = run.Result
	}
	if run.Error != nil {
		result["error"] = run.Error
	}
	if !run.EndTime.IsZero() {
		result["endTime"] = run.EndTime.Format(time.RFC3339)
	}
	return result
}
