// Package history keeps an append-only version trail for notes and
// supports restoring old versions.
package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
)

// Service manages note version history. Versions are never mutated or
// deleted; a restore appends a new version rather than rewinding.
type Service struct {
	repo *db.Repository
}

// NewService creates a history service over the local store.
func NewService(repo *db.Repository) *Service {
	return &Service{repo: repo}
}

// CreateVersion snapshots the current state of a note. author fields
// identify who made the change; changeDescription is free-form.
func (s *Service) CreateVersion(noteID models.UUID, authorID models.UUID, authorName, changeDescription string) (*models.NoteVersion, error) {
	rec, err := s.repo.GetEntity(noteID)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.EntityTypeNote {
		return nil, errors.Newf(errors.ErrValidation, "entity %s is a %s, not a note", noteID, rec.Type)
	}

	note, err := models.NoteFromRecord(rec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "decode note payload", err)
	}

	next, err := s.repo.NextNoteVersionNumber(noteID)
	if err != nil {
		return nil, err
	}

	v := &models.NoteVersion{
		ID:                models.UUID(uuid.New().String()),
		NoteID:            noteID,
		Version:           next,
		Title:             note.Title,
		Content:           note.Content,
		AuthorID:          string(authorID),
		AuthorName:        authorName,
		ChangeDescription: changeDescription,
		CreatedAt:         time.Now().UnixMilli(),
	}
	if err := s.repo.InsertNoteVersion(v); err != nil {
		return nil, err
	}

	logging.Debug("note version created", map[string]interface{}{
		"note_id": noteID,
		"version": next,
	})
	return v, nil
}

// GetVersionHistory lists a note's versions, newest first.
func (s *Service) GetVersionHistory(noteID models.UUID) ([]*models.NoteVersion, error) {
	return s.repo.ListNoteVersions(noteID)
}

// GetVersion returns one snapshot of a note.
func (s *Service) GetVersion(noteID models.UUID, version int64) (*models.NoteVersion, error) {
	return s.repo.GetNoteVersion(noteID, version)
}

// RestoreVersion copies an old snapshot's title and content back onto
// the note, records the restore as a new version, and marks the note
// pending so the next sweep pushes it.
func (s *Service) RestoreVersion(noteID models.UUID, version int64, authorID models.UUID, authorName string) (*models.NoteVersion, error) {
	snapshot, err := s.repo.GetNoteVersion(noteID, version)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.GetEntity(noteID)
	if err != nil {
		return nil, err
	}
	note, err := models.NoteFromRecord(rec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "decode note payload", err)
	}

	note.Title = snapshot.Title
	note.Content = snapshot.Content
	note.UpdatedAt = time.Now().UnixMilli()

	updated, err := note.ToRecord(rec.Version, note.UpdatedAt, models.StatusPending)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "encode note payload", err)
	}
	if err := s.repo.SaveLocal(updated); err != nil {
		return nil, err
	}

	next, err := s.repo.NextNoteVersionNumber(noteID)
	if err != nil {
		return nil, err
	}
	restored := &models.NoteVersion{
		ID:                models.UUID(uuid.New().String()),
		NoteID:            noteID,
		Version:           next,
		Title:             note.Title,
		Content:           note.Content,
		AuthorID:          string(authorID),
		AuthorName:        authorName,
		ChangeDescription: restoreDescription(version),
		CreatedAt:         time.Now().UnixMilli(),
	}
	if err := s.repo.InsertNoteVersion(restored); err != nil {
		return nil, err
	}

	logging.Info("note version restored", map[string]interface{}{
		"note_id":      noteID,
		"restored_to":  version,
		"new_version":  next,
	})
	return restored, nil
}

func restoreDescription(version int64) string {
	return fmt.Sprintf("Restored from version %d", version)
}
