package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
)

// DatabaseFields are required, in this order, for database-family connectors
// that do not supply a connection URI.
var DatabaseFields = []string{"host", "port", "user", "password", "database"}

// Info describes a registered connector type for discovery endpoints.
type Info struct {
	Type           string   `json:"type"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	Family         Family   `json:"family"`
	RequiredFields []string `json:"required_fields"`
	Writable       bool     `json:"writable"`
}

// OpenFunc builds a capability for validated params.
type OpenFunc func(ctx context.Context, p Params, logger *zap.Logger) (Capability, error)

// Registration binds a connector type to its capability constructor.
type Registration struct {
	Info Info
	Open OpenFunc
	// Validate runs after the family checks pass. Optional.
	Validate func(p Params) error
}

// Registry maps connector types to backends. It is built once at startup and
// injected into the services that need it.
type Registry struct {
	mu          sync.RWMutex
	regs        map[string]Registration
	allowedRoot string
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. When allowedRoot is non-empty, file
// connectors must point inside it.
func NewRegistry(logger *zap.Logger, allowedRoot string) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allowedRoot != "" {
		allowedRoot = filepath.Clean(allowedRoot)
	}
	return &Registry{
		regs:        make(map[string]Registration),
		allowedRoot: allowedRoot,
		logger:      logger.Named("connectors"),
	}
}

// Register adds a backend. Registering the same type twice is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Info.Type == "" || reg.Open == nil {
		return errors.New("registration requires a type and an open function")
	}
	if reg.Info.Family == FamilyDatabase && len(reg.Info.RequiredFields) == 0 {
		reg.Info.RequiredFields = DatabaseFields
	}
	if reg.Info.Family == FamilyFile && len(reg.Info.RequiredFields) == 0 {
		reg.Info.RequiredFields = []string{"file_path"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[reg.Info.Type]; exists {
		return fmt.Errorf("connector type %q already registered", reg.Info.Type)
	}
	r.regs[reg.Info.Type] = reg
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(regs ...Registration) {
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the registration for a type.
func (r *Registry) Lookup(connectorType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[connectorType]
	return reg, ok
}

// Family returns the family of a registered type.
func (r *Registry) Family(connectorType string) (Family, bool) {
	reg, ok := r.Lookup(connectorType)
	return reg.Info.Family, ok
}

// Types lists registered types ordered by family then type.
func (r *Registry) Types() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.Info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Validate applies the family rules for p.Type. Missing fields produce a
// validation error naming the first one absent; a file path that does not
// exist produces a not-found error.
func (r *Registry) Validate(p Params) error {
	reg, ok := r.Lookup(p.Type)
	if !ok {
		return apperrors.NewValidationError("type", fmt.Sprintf("unsupported connector type %q", p.Type))
	}

	switch reg.Info.Family {
	case FamilyFile:
		if err := r.validatePath(p.FilePath); err != nil {
			return err
		}
	case FamilyDatabase:
		if strings.TrimSpace(p.URI) == "" {
			if err := requireFields(p.Details, reg.Info.RequiredFields); err != nil {
				return err
			}
		}
	default:
		if err := requireFields(p.Details, reg.Info.RequiredFields); err != nil {
			return err
		}
	}

	if reg.Validate != nil {
		return reg.Validate(p)
	}
	return nil
}

// Open validates p and constructs its capability.
func (r *Registry) Open(ctx context.Context, p Params) (Capability, error) {
	if err := r.Validate(p); err != nil {
		return nil, err
	}
	reg, _ := r.Lookup(p.Type)
	capability, err := reg.Open(ctx, p, r.logger.With(zap.String("connector_type", p.Type)))
	if err != nil {
		return nil, apperrors.Backend("open "+p.Type, err)
	}
	return capability, nil
}

func (r *Registry) validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return apperrors.MissingField("file_path")
	}
	clean := filepath.Clean(path)
	if r.allowedRoot != "" {
		rel, err := filepath.Rel(r.allowedRoot, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return apperrors.NewValidationError("file_path", "must be inside the configured data root")
		}
	}
	if _, err := os.Stat(clean); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperrors.NotFound("path", path)
		}
		return apperrors.Backend("stat file_path", err)
	}
	return nil
}

func requireFields(details map[string]any, fields []string) error {
	for _, f := range fields {
		if !HasValue(details, f) {
			return apperrors.MissingField(f)
		}
	}
	return nil
}
