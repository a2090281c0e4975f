package repository

import (
	"context"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// ListHeadersForViewer returns participant metadata for every pair that has
// at least one message involving the viewer. The appointment is taken from
// the most recent message that carries one.
func (r *ConversationRepository) ListHeadersForViewer(
	ctx context.Context,
	viewerID string,
	viewerType models.SenderType,
) ([]models.ConversationHeader, error) {
	column, err := participantColumn(viewerType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT ON (m.doctor_id, m.patient_id)
			m.doctor_id,
			COALESCE(du.name, 'Unknown Doctor'),
			COALESCE(d.specialization, 'General Medicine'),
			m.patient_id,
			COALESCE(pu.name, 'Unknown Patient'),
			m.appointment_id,
			COALESCE(a.status, 'completed')
		FROM doctor_patient_messages m
		LEFT JOIN doctors d ON d.id = m.doctor_id
		LEFT JOIN users du ON du.id = d.user_id
		LEFT JOIN users pu ON pu.id = m.patient_id
		LEFT JOIN appointments a ON a.id = m.appointment_id
		WHERE m.` + column + ` = $1
		ORDER BY
			m.doctor_id,
			m.patient_id,
			(m.appointment_id IS NULL),
			m.created_at DESC,
			m.id DESC
	`

	rows, err := r.db.Query(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	headers := make([]models.ConversationHeader, 0)
	for rows.Next() {
		var header models.ConversationHeader
		if err := rows.Scan(
			&header.DoctorID,
			&header.DoctorName,
			&header.Specialization,
			&header.PatientID,
			&header.PatientName,
			&header.AppointmentID,
			&header.AppointmentStatus,
		); err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return headers, nil
}
