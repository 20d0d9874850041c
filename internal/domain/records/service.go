package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	diagnoses DiagnosisRepository
	notes     NoteRepository
}

func NewService(diagnoses DiagnosisRepository, notes NoteRepository) *Service {
	return &Service{diagnoses: diagnoses, notes: notes}
}

func (s *Service) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if d.Description == "" {
		return fmt.Errorf("description is required")
	}
	if d.DiagnosedAt.IsZero() {
		d.DiagnosedAt = time.Now()
	}
	return s.diagnoses.Create(ctx, d)
}

func (s *Service) GetDiagnosis(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return s.diagnoses.GetByID(ctx, id)
}

func (s *Service) UpdateDiagnosis(ctx context.Context, d *Diagnosis) error {
	if d.Description == "" {
		return fmt.Errorf("description is required")
	}
	return s.diagnoses.Update(ctx, d)
}

func (s *Service) DeleteDiagnosis(ctx context.Context, id uuid.UUID) error {
	return s.diagnoses.Delete(ctx, id)
}

func (s *Service) PatientDiagnoses(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	return s.diagnoses.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) AddNote(ctx context.Context, n *ClinicalNote) error {
	if n.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if n.Body == "" {
		return fmt.Errorf("body is required")
	}
	return s.notes.Create(ctx, n)
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *Service) UpdateNote(ctx context.Context, n *ClinicalNote) error {
	if n.Body == "" {
		return fmt.Errorf("body is required")
	}
	return s.notes.Update(ctx, n)
}

func (s *Service) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return s.notes.Delete(ctx, id)
}

func (s *Service) PatientNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	return s.notes.ListByPatient(ctx, patientID, limit, offset)
}
