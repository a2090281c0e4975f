package repository

import (
	"context"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

type AppointmentRepository struct {
	db DBTX
}

func NewAppointmentRepository(db DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	query := `
		SELECT id, doctor_id, patient_id, status, created_at
		FROM appointments
		WHERE id = $1
	`

	var appointment models.Appointment
	err := r.db.QueryRow(ctx, query, appointmentID).Scan(
		&appointment.ID,
		&appointment.DoctorID,
		&appointment.PatientID,
		&appointment.Status,
		&appointment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &appointment, nil
}
