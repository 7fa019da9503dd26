package services

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/repo"
)

// MemoryService stores planner preferences per scope. Values are strings;
// booleans are "true"/"false" and ratios use the Intent enum.
type MemoryService struct {
	DB *gorm.DB
}

// ScopeID returns the id a scope is keyed by for this caller.
func ScopeID(scope, userID, brandID string) string {
	switch scope {
	case domain.MemoryUser:
		return userID
	case domain.MemoryBrand:
		return brandID
	default:
		return ""
	}
}

// Get returns the entries of one scope as a key/value map.
func (s *MemoryService) Get(ctx context.Context, scope, scopeID string) (map[string]string, error) {
	tr := otel.Tracer("services/MemoryService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("memory.scope", scope)))
	defer span.End()

	if err := checkScope(scope, scopeID); err != nil {
		return nil, err
	}
	rows, err := repo.ListMemories(ctx, s.DB, scope, scopeID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Put validates and stores values under one scope. An empty value deletes
// the key.
func (s *MemoryService) Put(ctx context.Context, scope, scopeID string, values map[string]string) error {
	tr := otel.Tracer("services/MemoryService")
	ctx, span := tr.Start(ctx, "Put", trace.WithAttributes(
		attribute.String("memory.scope", scope),
		attribute.Int("memory.keys", len(values)),
	))
	defer span.End()

	if err := checkScope(scope, scopeID); err != nil {
		return err
	}
	var verr ValidationError
	for k, v := range values {
		if msg := checkMemoryValue(k, strings.TrimSpace(v)); msg != "" {
			verr.Fields = append(verr.Fields, FieldError{Field: k, Message: msg})
		}
	}
	if len(verr.Fields) > 0 {
		return &verr
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			v = strings.TrimSpace(v)
			var err error
			if v == "" {
				err = repo.DeleteMemory(ctx, tx, scope, scopeID, k)
			} else {
				err = repo.PutMemory(ctx, tx, scope, scopeID, k, v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Resolve merges global, user and brand memory; later scopes win.
func (s *MemoryService) Resolve(ctx context.Context, userID, brandID string) (map[string]string, error) {
	out := map[string]string{}
	for _, sc := range []struct{ scope, id string }{
		{domain.MemoryGlobal, ""},
		{domain.MemoryUser, userID},
		{domain.MemoryBrand, brandID},
	} {
		if sc.scope != domain.MemoryGlobal && sc.id == "" {
			continue
		}
		m, err := s.Get(ctx, sc.scope, sc.id)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

func checkScope(scope, scopeID string) error {
	switch scope {
	case domain.MemoryGlobal:
		if scopeID != "" {
			return &ValidationError{Fields: []FieldError{{Field: "scope", Message: "global scope takes no id"}}}
		}
	case domain.MemoryUser, domain.MemoryBrand:
		if scopeID == "" {
			return &ValidationError{Fields: []FieldError{{Field: "scope", Message: scope + " scope needs an id"}}}
		}
	default:
		return &ValidationError{Fields: []FieldError{{Field: "scope", Message: "must be one of global, user, brand"}}}
	}
	return nil
}

func checkMemoryValue(key, value string) string {
	switch {
	case key == domain.MemoryKeyCTA:
		if len(value) > 200 {
			return "must be at most 200 characters"
		}
	case key == domain.MemoryKeyPaletteLock, key == domain.MemoryKeyTypographyLock:
		if value == "" {
			return ""
		}
		if _, err := strconv.ParseBool(value); err != nil {
			return "must be true or false"
		}
	case strings.HasPrefix(key, domain.MemoryKeyRatioPrefix):
		switch strings.TrimPrefix(key, domain.MemoryKeyRatioPrefix) {
		case domain.KindCarousel, domain.KindImage, domain.KindVideo, domain.KindText:
		default:
			return "unknown content kind"
		}
		switch value {
		case "", domain.Ratio1x1, domain.Ratio9x16, domain.Ratio16x9, domain.Ratio3x4:
		default:
			return "must be one of 1:1, 9:16, 16:9, 3:4"
		}
	default:
		return "unknown key"
	}
	return ""
}
