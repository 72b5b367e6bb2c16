package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/cards"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

type cleanRequest struct {
	Markdown string `json:"markdown"`
}

type cleanContent struct {
	Cards   []cards.Card `json:"cards"`
	Success bool         `json:"success"`
}

type cleanSuccess struct {
	Content cleanContent `json:"content"`
}

// clean condenses Markdown, usually a previous crawl's output, into
// knowledge cards.
func (s *Server) clean(w http.ResponseWriter, r *http.Request) {
	var req cleanRequest
	if err := decodeObject(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()), &req); err != nil {
		s.writeDecodeFailure(w, err)
		return
	}

	generated, err := s.cards.Generate(r.Context(), req.Markdown)
	if err != nil {
		s.logger.Info("card generation failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("kind", string(crawler.KindOf(err))),
			zap.Bool("canceled", crawler.Canceled(err)),
			zap.Error(err),
		)
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cleanSuccess{Content: cleanContent{Cards: generated, Success: true}})
}
