// Package grpcapi serves the chemcalc operations over gRPC. Every method of
// the chemcalc.v1.Formulas service takes and returns a google.protobuf.Struct
// carrying the same fields as the HTTP JSON API.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/hostexpr"
	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/store"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chemcalc.v1.Formulas"

// FormulasServer is the server API of the chemcalc.v1.Formulas service.
type FormulasServer interface {
	Interpret(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Detect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Convert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFunctions(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateProgram(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProgram(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPrograms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateProgram(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteProgram(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(FormulasServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m method) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(FormulasServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(srv.(FormulasServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes chemcalc.v1.Formulas for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FormulasServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Interpret", FormulasServer.Interpret),
		unary("Detect", FormulasServer.Detect),
		unary("Convert", FormulasServer.Convert),
		unary("ListFunctions", FormulasServer.ListFunctions),
		unary("CreateProgram", FormulasServer.CreateProgram),
		unary("GetProgram", FormulasServer.GetProgram),
		unary("ListPrograms", FormulasServer.ListPrograms),
		unary("UpdateProgram", FormulasServer.UpdateProgram),
		unary("DeleteProgram", FormulasServer.DeleteProgram),
		unary("CreateRun", FormulasServer.CreateRun),
		unary("GetRun", FormulasServer.GetRun),
		unary("ListRuns", FormulasServer.ListRuns),
	},
	Streams: []grpc.StreamDesc{},
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the server and its interpreters.
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

// Server implements the chemcalc.v1.Formulas service over a store.
type Server struct {
	store    *store.Store
	registry *stdlib.Registry

	resolution runtime.Resolution
	logger     *slog.Logger
	grpc       *grpc.Server
}

// New creates a new gRPC server wrapping the given store.
func New(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		store:  s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.registry = stdlib.NewRegistry(stdlib.WithLogger(srv.logger))

	gs := grpc.NewServer(grpc.UnaryInterceptor(srv.logCalls))
	gs.RegisterService(&ServiceDesc, srv)
	srv.grpc = gs
	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc call", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(start))
	return resp, err
}

// --- Formula operations ---

// Interpret runs {source, scope} and returns {scope}.
func (s *Server) Interpret(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	initial, err := scopeField(req, "scope")
	if err != nil {
		return nil, err
	}

	scope, err := s.newInterpreter(source, initial).Interpret()
	if err != nil {
		return nil, s.statusError(source, err, scope)
	}
	return toStruct(map[string]any{"scope": scope})
}

// Detect returns {variables} for {source, specialOnly}.
func (s *Server) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	d := formula.NewDetector(formula.NewLexer(source))
	detect := d.Variables
	if boolField(req, "specialOnly") {
		detect = d.Special
	}
	vars, err := detect()
	if err != nil {
		return nil, s.statusError(source, err, nil)
	}
	if vars == nil {
		vars = []formula.Variable{}
	}
	return toStruct(map[string]any{"variables": vars})
}

// Convert returns {expression} for {source}, plus {result} when evaluate is
// set.
func (s *Server) Convert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	expression, err := formula.ConvertExpression(source)
	if err != nil {
		return nil, s.statusError(source, err, nil)
	}
	resp := map[string]any{"expression": expression}
	if !boolField(req, "evaluate") {
		return toStruct(resp)
	}

	vars, err := scopeField(req, "scope")
	if err != nil {
		return nil, err
	}
	result, err := hostexpr.Evaluate(expression, vars, s.registry)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "evaluating %q: %v", expression, err)
	}
	resp["result"] = result
	return toStruct(resp)
}

// ListFunctions returns {functions}.
func (s *Server) ListFunctions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"functions": s.registry.Names()})
}

// --- Programs ---

// CreateProgram stores {programId, source, description}.
func (s *Server) CreateProgram(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	programID := stringField(req, "programId")
	if programID == "" {
		return nil, status.Error(codes.InvalidArgument, "programId is required")
	}
	source := stringField(req, "source")
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}

	p, err := s.store.CreateProgram(programID, source, stringField(req, "description"))
	if err != nil {
		return nil, s.statusError(source, err, nil)
	}
	s.logger.Info("program created", "program", p.Name, "revision", p.RevisionID)
	return toStruct(p)
}

func (s *Server) GetProgram(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.store.GetProgram(stringField(req, "name"))
	if err != nil {
		return nil, s.statusError("", err, nil)
	}
	return toStruct(p)
}

func (s *Server) ListPrograms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"programs": s.store.ListPrograms()})
}

// UpdateProgram replaces the source and description of {name}. Empty fields
// are left unchanged.
func (s *Server) UpdateProgram(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	p, err := s.store.UpdateProgram(stringField(req, "name"), source, stringField(req, "description"))
	if err != nil {
		return nil, s.statusError(source, err, nil)
	}
	return toStruct(p)
}

func (s *Server) DeleteProgram(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if err := s.store.DeleteProgram(name); err != nil {
		return nil, s.statusError("", err, nil)
	}
	return toStruct(map[string]any{"name": name, "deleted": true})
}

// --- Runs ---

// CreateRun interprets the program named by {parent} against {scope} and
// returns the finished run. A failing program yields a FAILED run, not an
// error.
func (s *Server) CreateRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	programName := stringField(req, "parent")
	initial, err := scopeField(req, "scope")
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetProgram(programName)
	if err != nil {
		return nil, s.statusError("", err, nil)
	}
	run, err := s.store.CreateRun(programName, initial.Clone())
	if err != nil {
		return nil, s.statusError("", err, nil)
	}

	scope, runErr := s.newInterpreter(p.Source, initial).Interpret()
	if runErr != nil {
		s.logger.Info("run failed", "run", run.Name, "error", runErr)
		err = s.store.FailRun(run.Name, scope, runErr)
	} else {
		err = s.store.CompleteRun(run.Name, scope)
	}
	if err != nil {
		return nil, s.statusError("", err, nil)
	}

	run, err = s.store.GetRun(run.Name)
	if err != nil {
		return nil, s.statusError("", err, nil)
	}
	return toStruct(run)
}

func (s *Server) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	run, err := s.store.GetRun(stringField(req, "name"))
	if err != nil {
		return nil, s.statusError("", err, nil)
	}
	return toStruct(run)
}

func (s *Server) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	programName := stringField(req, "parent")
	if _, err := s.store.GetProgram(programName); err != nil {
		return nil, s.statusError("", err, nil)
	}
	return toStruct(map[string]any{"runs": s.store.ListRuns(programName)})
}

// --- Internal helpers ---

func (s *Server) newInterpreter(source string, initial *runtime.Scope) *runtime.Interpreter {
	return runtime.New(source,
		runtime.WithScope(initial),
		runtime.WithRegistry(s.registry),
		runtime.WithResolution(s.resolution),
		runtime.WithLogger(s.logger),
	)
}

// statusError maps store and formula errors to gRPC status codes. Formula
// errors carry a Struct detail with tag, line, column, diagnostic and the
// partial scope.
func (s *Server) statusError(source string, err error, partial *runtime.Scope) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, store.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	fe, ok := types.AsFormulaError(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	detail := map[string]any{"tag": fe.Tag}
	if fe.Pos.IsValid() {
		detail["line"] = fe.Pos.Line
		detail["column"] = fe.Pos.Column
	}
	if source != "" {
		detail["diagnostic"] = formula.Diagnose(source, err)
	}
	if partial != nil {
		detail["scope"] = partial
	}

	st := status.New(codes.InvalidArgument, err.Error())
	d, derr := toStruct(detail)
	if derr != nil {
		s.logger.Warn("could not encode error detail", "error", derr)
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(d); derr == nil {
		st = withDetail
	}
	return st.Err()
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

// scopeField decodes an optional object field into a scope. Struct fields
// are unordered, so bindings are created in sorted name order.
func scopeField(req *structpb.Struct, name string) (*runtime.Scope, error) {
	v := req.GetFields()[name]
	switch v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return runtime.NewScope(), nil
	case *structpb.Value_StructValue:
		scope, err := runtime.ScopeFromMap(v.GetStructValue().AsMap())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", name, err)
		}
		return scope, nil
	}
	return nil, status.Errorf(codes.InvalidArgument, "invalid %s: must be an object", name)
}

// toStruct converts v through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}
