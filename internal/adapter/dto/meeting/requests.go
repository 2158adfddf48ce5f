package meeting

// ListMeetingsRequest filters the meeting list
type ListMeetingsRequest struct {
	Status   string `query:"status" validate:"omitempty,oneof=upcoming past archived"`
	From     string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To       string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" validate:"omitempty,min=1,max=200"`
}

// ParticipantRequest is one participant on create/update
type ParticipantRequest struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	IsHost    bool   `json:"is_host"`
	JoinOrder int    `json:"join_order"`
}

// CreateMeetingRequest creates an upcoming or past meeting by hand
type CreateMeetingRequest struct {
	Title        string               `json:"title" validate:"required"`
	Platform     string               `json:"platform"`
	Date         string               `json:"date" validate:"omitempty"`
	Status       string               `json:"status" validate:"omitempty,oneof=upcoming past"`
	Content      string               `json:"content"`
	Participants []ParticipantRequest `json:"participants" validate:"omitempty,dive"`
}

// UpdateMeetingRequest patches user-editable meeting fields. Nil means
// leave the field unchanged.
type UpdateMeetingRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Summary *string `json:"summary,omitempty"`
	Status  *string `json:"status,omitempty" validate:"omitempty,oneof=upcoming past archived"`
}

// StartRecordingRequest starts recording a detected meeting
type StartRecordingRequest struct {
	Handle   string `json:"handle" validate:"required"`
	Title    string `json:"title"`
	Platform string `json:"platform"`
}

// TokenRequest exchanges the configured API secret for a bearer token
type TokenRequest struct {
	Subject string `json:"subject" validate:"required"`
	Secret  string `json:"secret" validate:"required"`
}
