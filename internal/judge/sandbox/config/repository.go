// Package config resolves language tags to toolchain specs and time profiles.
package config

import (
	"context"
	"sort"
	"strings"

	"classjudge/internal/judge/sandbox/profile"
	appErr "classjudge/pkg/errors"
)

// LanguageSpecRepository resolves a language tag. Unknown tags yield LanguageNotSupported.
type LanguageSpecRepository interface {
	GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error)
}

// TaskProfileRepository resolves the limits used for one task type and language.
type TaskProfileRepository interface {
	GetTaskProfile(ctx context.Context, taskType profile.TaskType, languageID string) (profile.TaskProfile, error)
}

// LocalRepository serves both tables from memory.
type LocalRepository struct {
	languages map[string]profile.LanguageSpec
	profiles  map[string]profile.TaskProfile
}

// NewLocalRepository creates a repository from config lists.
// Empty lists fall back to the built-in defaults.
func NewLocalRepository(languages []profile.LanguageSpec, profiles []profile.TaskProfile) *LocalRepository {
	if len(languages) == 0 {
		languages = profile.DefaultLanguages()
	}
	langMap := make(map[string]profile.LanguageSpec, len(languages))
	for _, lang := range languages {
		id := normalizeID(lang.ID)
		if id == "" || lang.SourceFile == "" || lang.RunCmdTpl == "" {
			continue
		}
		lang.ID = id
		langMap[id] = lang
	}

	profileMap := make(map[string]profile.TaskProfile)
	for _, prof := range profile.DefaultProfiles() {
		profileMap[profileKey(prof.LanguageID, prof.TaskType)] = prof
	}
	for _, prof := range profiles {
		if prof.TaskType == "" {
			continue
		}
		prof.LanguageID = normalizeID(prof.LanguageID)
		profileMap[profileKey(prof.LanguageID, prof.TaskType)] = prof
	}
	return &LocalRepository{languages: langMap, profiles: profileMap}
}

// GetLanguageSpec resolves a language tag.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	key := normalizeID(id)
	if key == "" {
		return profile.LanguageSpec{}, appErr.UnsupportedLanguage(id)
	}
	lang, ok := r.languages[key]
	if !ok {
		return profile.LanguageSpec{}, appErr.UnsupportedLanguage(id)
	}
	return lang, nil
}

// GetTaskProfile returns the language specific profile, or the shared one for the task type.
func (r *LocalRepository) GetTaskProfile(ctx context.Context, taskType profile.TaskType, languageID string) (profile.TaskProfile, error) {
	if taskType == "" {
		return profile.TaskProfile{}, appErr.ValidationError("task_type", "required")
	}
	if prof, ok := r.profiles[profileKey(normalizeID(languageID), taskType)]; ok {
		return prof, nil
	}
	if prof, ok := r.profiles[profileKey("", taskType)]; ok {
		return prof, nil
	}
	return profile.TaskProfile{}, appErr.New(appErr.NotFound).WithMessage("task profile not found")
}

// Languages lists the registered languages ordered by id.
func (r *LocalRepository) Languages() []profile.LanguageSpec {
	out := make([]profile.LanguageSpec, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func profileKey(languageID string, taskType profile.TaskType) string {
	return languageID + "-" + string(taskType)
}
