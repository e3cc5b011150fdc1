package handler

import (
	"errors"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"ai-talks/internal/domain"
	"ai-talks/internal/logger"
	"ai-talks/internal/usecase"
)

type shareRequest struct {
	ConversationID string            `json:"conversationId"`
	Transcript     domain.Transcript `json:"transcript"`
}

type shareResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		invalidBody(w)
		return
	}
	out, err := h.shares.Share(r.Context(), usecase.ShareInput{ConversationID: req.ConversationID, Transcript: req.Transcript})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{URL: out.URL, ExpiresAt: out.ExpiresAt})
}

type pageEntry struct {
	TurnIndex int
	Notice    bool
	Speaker   domain.SpeakerID
	Name      string
	Text      string
	Time      time.Time
}

type pageData struct {
	ConversationID string
	Direction      domain.Direction
	HasAudio       bool
	ExpiresAt      *time.Time
	Entries        []pageEntry
}

type errorPageData struct {
	Status  int
	Title   string
	Message string
}

func (h *Handler) sharePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.shares.Shared(r.Context(), id)
	if err != nil {
		h.renderErrorPage(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := sharePageTmpl.Execute(w, buildPage(t)); err != nil {
		logger.FromContext(r.Context()).Error("render share page", "conversation_id", id, "error", err)
	}
}

func (h *Handler) renderErrorPage(w http.ResponseWriter, r *http.Request, err error) {
	data := errorPageData{Status: http.StatusInternalServerError, Title: "Something went wrong", Message: "The conversation could not be loaded."}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		data.Status = statusFor(ue.Code)
		switch ue.Code {
		case usecase.ErrorExpired:
			data.Title, data.Message = "Link expired", "This shared conversation is no longer available."
		case usecase.ErrorNotFound, usecase.ErrorForbidden, usecase.ErrorInvalidInput:
			data.Status = http.StatusNotFound
			data.Title, data.Message = "Not found", "There is no shared conversation at this address."
		}
	}
	if data.Status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("load shared conversation", "error", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(data.Status)
	_ = errorPageTmpl.Execute(w, data)
}

// buildPage interleaves notices after the turn they followed.
func buildPage(t domain.Transcript) pageData {
	notices := make(map[int][]domain.Notice, len(t.Notices))
	for _, n := range t.Notices {
		notices[n.AfterIndex] = append(notices[n.AfterIndex], n)
	}
	entries := make([]pageEntry, 0, len(t.Turns)+len(t.Notices))
	appendNotices := func(after int) {
		for _, n := range notices[after] {
			entries = append(entries, pageEntry{TurnIndex: -1, Notice: true, Speaker: domain.SpeakerSystem, Name: "System", Text: n.Text, Time: n.Timestamp})
		}
		delete(notices, after)
	}
	appendNotices(-1)
	for _, turn := range t.Turns {
		entries = append(entries, pageEntry{
			TurnIndex: turn.Index,
			Speaker:   turn.SpeakerID,
			Name:      t.Settings.DisplayName(turn.SpeakerID),
			Text:      turn.Text,
			Time:      turn.Timestamp,
		})
		appendNotices(turn.Index)
	}
	// Notices pointing at unknown turns still render, at the end.
	rest := make([]int, 0, len(notices))
	for after := range notices {
		rest = append(rest, after)
	}
	sort.Ints(rest)
	for _, after := range rest {
		appendNotices(after)
	}
	return pageData{
		ConversationID: t.ConversationID,
		Direction:      t.Settings.Direction,
		HasAudio:       t.HasAudio,
		ExpiresAt:      t.ExpiresAt,
		Entries:        entries,
	}
}

var sharePageTmpl = template.Must(template.New("share").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>AI Talks · shared conversation</title>
</head>
<body data-conversation-id="{{.ConversationID}}" data-has-audio="{{.HasAudio}}">
<main>
<h1>Shared conversation</h1>
{{if .ExpiresAt}}<p class="expiry">Available until {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}</p>{{end}}
{{if .HasAudio}}<button id="play" type="button" data-replay-path="/api/v1/conversations/{{.ConversationID}}/replay">Play</button>{{end}}
<ol class="transcript">
{{range .Entries}}{{if .Notice}}<li class="notice">{{.Text}}</li>
{{else}}<li class="turn {{.Speaker}}" data-turn-index="{{.TurnIndex}}"><strong>{{.Name}}</strong> <span>{{.Text}}</span></li>
{{end}}{{end}}</ol>
</main>
{{if .HasAudio}}<script>
(function () {
  var btn = document.getElementById("play");
  var audio = new Audio();
  var ws = null;
  var seq = 0;
  function send(m) {
    if (ws && ws.readyState === WebSocket.OPEN) { ws.send(JSON.stringify(m)); }
  }
  function mark(index) {
    document.querySelectorAll(".turn.active").forEach(function (el) { el.classList.remove("active"); });
    if (index === undefined) { return; }
    var el = document.querySelector('.turn[data-turn-index="' + index + '"]');
    if (el) { el.classList.add("active"); el.scrollIntoView({block: "nearest"}); }
  }
  audio.addEventListener("ended", function () { send({type: "ended", seq: seq}); });
  audio.addEventListener("error", function () { send({type: "error", seq: seq, error: "media_error"}); });
  function connect(onOpen) {
    var scheme = location.protocol === "https:" ? "wss://" : "ws://";
    ws = new WebSocket(scheme + location.host + btn.dataset.replayPath);
    ws.addEventListener("open", onOpen);
    ws.addEventListener("close", function () { ws = null; audio.pause(); btn.textContent = "Play"; mark(); });
    ws.addEventListener("message", function (ev) {
      var m = JSON.parse(ev.data);
      switch (m.type) {
      case "play":
        seq = m.seq;
        audio.src = m.clip.uri;
        audio.play().catch(function () { send({type: "error", seq: m.seq, error: "play_rejected"}); });
        break;
      case "pause": audio.pause(); break;
      case "highlight": mark(m.index); break;
      case "clear": mark(); break;
      case "status": btn.textContent = m.playing ? "Pause" : "Play"; break;
      case "stopped": btn.textContent = "Play"; mark(); break;
      case "notice": btn.disabled = true; btn.textContent = m.notice.text; break;
      }
    });
  }
  btn.addEventListener("click", function () {
    if (ws) { send({type: "toggle"}); return; }
    connect(function () { send({type: "toggle"}); });
  });
})();
</script>{{end}}
</body>
</html>
`))

var errorPageTmpl = template.Must(template.New("error").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><main><h1>{{.Title}}</h1><p>{{.Message}}</p></main></body>
</html>
`))
