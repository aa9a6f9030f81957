package chat

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultDocumentType is used when no file request is active.
const DefaultDocumentType = "other"

// UploadCoordinator binds a file selection to the active session and the
// pending document request, and chains a follow-up turn after a successful
// upload so the assistant can react.
type UploadCoordinator struct {
	uploader Uploader
	sessions *SessionManager
	ctrl     *Controller
}

func NewUploadCoordinator(uploader Uploader, sessions *SessionManager, ctrl *Controller) *UploadCoordinator {
	return &UploadCoordinator{uploader: uploader, sessions: sessions, ctrl: ctrl}
}

// Upload sends the file scoped to the current session. The document type is
// taken from the active file request, falling back to "other". On success the
// upload is recorded in the conversation, the file request is cleared, and one
// follow-up turn is triggered. On failure the file request stays untouched so
// the user can retry.
func (u *UploadCoordinator) Upload(ctx context.Context, file io.Reader, filename string) error {
	sess, ok := u.sessions.Current()
	if !ok {
		return ErrNoSession
	}

	docType := DefaultDocumentType
	if fr := u.ctrl.activeFileRequest(); fr != nil && fr.DocumentType != "" {
		docType = fr.DocumentType
	}

	res, err := u.uploader.UploadFile(ctx, sess.SessionID, file, filename, docType)
	if err != nil {
		return errors.Wrap(err, "upload file")
	}
	log.Info().Str("component", "upload").Str("session_id", sess.SessionID).
		Str("document_id", res.DocumentID).Str("document_type", res.DocumentType).
		Str("status", res.Status).Msg("document uploaded")

	u.ctrl.noteUpload(res)

	followUp := "I've uploaded my " + strings.ReplaceAll(docType, "_", " ") + "."
	if err := u.ctrl.Send(ctx, followUp); err != nil {
		return errors.Wrap(err, "follow-up turn")
	}
	return nil
}
