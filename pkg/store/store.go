// Package store provides in-memory storage for formula programs and their runs.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid program ID")
)

var validProgramID = regexp.MustCompile(`^\p{Ll}[\p{Ll}\p{N}_-]*$`)

// ValidateProgramID checks that id is lower case, starts with a letter and
// holds at most 128 characters.
func ValidateProgramID(id string) error {
	if !validProgramID.MatchString(id) || len([]rune(id)) > 128 {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

// RunState represents the state of a program run.
type RunState string

const (
	RunActive    RunState = "ACTIVE"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
)

// Program is a stored formula program.
type Program struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	RevisionID  string             `json:"revisionId"`
	CreateTime  time.Time          `json:"createTime"`
	UpdateTime  time.Time          `json:"updateTime"`
	Source      string             `json:"source"`
	Variables   []formula.Variable `json:"variables"`
}

// Run is one interpretation of a stored program.
type Run struct {
	Name              string         `json:"name"`
	State             RunState       `json:"state"`
	Scope             *runtime.Scope `json:"scope,omitempty"`
	Result            *runtime.Scope `json:"result,omitempty"`
	Error             *RunError      `json:"error,omitempty"`
	StartTime         time.Time      `json:"startTime"`
	EndTime           time.Time      `json:"endTime,omitempty"`
	ProgramRevisionID string         `json:"programRevisionId"`

	source string
}

// RunError describes why a run failed.
type RunError struct {
	Tag        string `json:"tag,omitempty"`
	Message    string `json:"message"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Store is a thread-safe in-memory storage for programs and runs.
type Store struct {
	mu       sync.RWMutex
	programs map[string]*Program
	runs     map[string]*Run

	revCounter int64
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		programs: make(map[string]*Program),
		runs:     make(map[string]*Run),
	}
}

// ProgramName returns the resource name of the program with the given ID.
func ProgramName(programID string) string {
	return "programs/" + programID
}

// RunName returns the resource name of a run.
func RunName(programID, runID string) string {
	return fmt.Sprintf("%s/runs/%s", ProgramName(programID), runID)
}

// CreateProgram stores a new program. The source must parse.
func (s *Store) CreateProgram(programID, source, description string) (*Program, error) {
	if err := ValidateProgramID(programID); err != nil {
		return nil, err
	}
	vars, err := analyze(source)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := ProgramName(programID)
	if _, exists := s.programs[name]; exists {
		return nil, fmt.Errorf("program '%s' %w", name, ErrAlreadyExists)
	}

	s.revCounter++
	now := time.Now()
	p := &Program{
		Name:        name,
		Description: description,
		RevisionID:  fmt.Sprintf("%06d-000", s.revCounter),
		CreateTime:  now,
		UpdateTime:  now,
		Source:      source,
		Variables:   vars,
	}
	s.programs[name] = p
	cp := *p
	return &cp, nil
}

// GetProgram retrieves a program by its full name.
func (s *Store) GetProgram(name string) (*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.programs[name]
	if !ok {
		return nil, fmt.Errorf("program '%s' %w", name, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListPrograms returns all programs ordered by name.
func (s *Store) ListPrograms() []*Program {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Program, 0, len(s.programs))
	for _, p := range s.programs {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// UpdateProgram replaces the source and, when non-empty, the description.
// An empty source keeps the current one.
func (s *Store) UpdateProgram(name, source, description string) (*Program, error) {
	var vars []formula.Variable
	if source != "" {
		var err error
		if vars, err = analyze(source); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[name]
	if !ok {
		return nil, fmt.Errorf("program '%s' %w", name, ErrNotFound)
	}

	s.revCounter++
	if source != "" {
		p.Source = source
		p.Variables = vars
	}
	if description != "" {
		p.Description = description
	}
	p.RevisionID = fmt.Sprintf("%06d-000", s.revCounter)
	p.UpdateTime = time.Now()

	cp := *p
	return &cp, nil
}

// DeleteProgram removes a program and its runs.
func (s *Store) DeleteProgram(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.programs[name]; !ok {
		return fmt.Errorf("program '%s' %w", name, ErrNotFound)
	}
	delete(s.programs, name)
	prefix := name + "/runs/"
	for runName := range s.runs {
		if len(runName) > len(prefix) && runName[:len(prefix)] == prefix {
			delete(s.runs, runName)
		}
	}
	return nil
}

// CreateRun records a new active run of the named program with its
// initial scope.
func (s *Store) CreateRun(programName string, scope *runtime.Scope) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[programName]
	if !ok {
		return nil, fmt.Errorf("program '%s' %w", programName, ErrNotFound)
	}

	run := &Run{
		Name:              fmt.Sprintf("%s/runs/%s", programName, uuid.NewString()),
		State:             RunActive,
		Scope:             scope,
		StartTime:         time.Now(),
		ProgramRevisionID: p.RevisionID,
		source:            p.Source,
	}
	s.runs[run.Name] = run
	cp := *run
	return &cp, nil
}

// CompleteRun marks a run as succeeded with its final scope.
func (s *Store) CompleteRun(name string, result *runtime.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[name]
	if !ok {
		return fmt.Errorf("run '%s' %w", name, ErrNotFound)
	}

	run.State = RunSucceeded
	run.EndTime = time.Now()
	run.Result = result
	return nil
}

// FailRun marks a run as failed. partial holds the bindings made before the
// failing statement and may be nil.
func (s *Store) FailRun(name string, partial *runtime.Scope, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[name]
	if !ok {
		return fmt.Errorf("run '%s' %w", name, ErrNotFound)
	}

	run.State = RunFailed
	run.EndTime = time.Now()
	run.Result = partial

	re := &RunError{Message: err.Error()}
	if fe, ok := types.AsFormulaError(err); ok {
		re.Tag = fe.Tag
		re.Message = fe.Message
		if fe.Pos.IsValid() {
			re.Line = fe.Pos.Line
			re.Column = fe.Pos.Column
		}
		re.Diagnostic = formula.Diagnose(run.source, err)
	}
	run.Error = re
	return nil
}

// GetRun retrieves a run by name.
func (s *Store) GetRun(name string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[name]
	if !ok {
		return nil, fmt.Errorf("run '%s' %w", name, ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns the runs of a program, oldest first.
func (s *Store) ListRuns(programName string) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Run
	prefix := programName + "/runs/"
	for name, run := range s.runs {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			cp := *run
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// analyze parses source and detects its variables.
func analyze(source string) ([]formula.Variable, error) {
	if _, err := formula.ParseProgram(source); err != nil {
		return nil, err
	}
	return formula.DetectVariables(source)
}
