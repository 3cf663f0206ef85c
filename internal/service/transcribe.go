package service

import (
	"context"
	"mime/multipart"
	stdhttp "net/http"

	"MetaDJ/internal/biz"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	maxAudioBytes     = 25 << 20
	multipartMemBytes = 8 << 20
)

// TranscribeService serves the audio transcription route.
type TranscribeService struct {
	uc     *biz.TranscribeUsecase
	logger *pkglog.LogHelper
}

// NewTranscribeService creates a TranscribeService.
func NewTranscribeService(uc *biz.TranscribeUsecase, logger log.Logger) *TranscribeService {
	return &TranscribeService{uc: uc, logger: pkglog.NewLogHelper(logger)}
}

// RegisterRoutes mounts the transcription route on srv.
func (s *TranscribeService) RegisterRoutes(srv *http.Server) {
	srv.Route("/").POST(PathTranscribe, s.Transcribe)
}

type transcribeUpload struct {
	file   multipart.File
	header *multipart.FileHeader
	model  string
}

// Transcribe handles POST /api/transcribe with a multipart "file" field
// and an optional "model" field.
func (s *TranscribeService) Transcribe(ctx http.Context) error {
	req := ctx.Request()
	req.Body = stdhttp.MaxBytesReader(ctx.Response(), req.Body, maxAudioBytes)
	if err := req.ParseMultipartForm(multipartMemBytes); err != nil {
		return errors.BadRequest(biz.ErrorReasonInvalidRequest, "expected multipart form with an audio file up to 25MB")
	}
	defer req.MultipartForm.RemoveAll()

	file, header, err := req.FormFile("file")
	if err != nil {
		return errors.BadRequest(biz.ErrorReasonInvalidRequest, "missing audio file")
	}
	defer file.Close()
	if header.Size == 0 {
		return errors.BadRequest(biz.ErrorReasonInvalidRequest, "audio file is empty")
	}

	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		up := in.(*transcribeUpload)
		reqCtx := pkglog.GetRequestContext(c)
		return s.uc.Transcribe(c, &biz.TranscribeRequest{
			ClientID:      reqCtx.ClientID,
			IsFingerprint: reqCtx.IsFingerprint,
			Audio:         up.file,
			Filename:      up.header.Filename,
			Model:         up.model,
		})
	})

	out, err := h(ctx, &transcribeUpload{file: file, header: header, model: req.FormValue("model")})
	if err != nil {
		return replyError(ctx, err)
	}
	return ctx.Result(200, out)
}
