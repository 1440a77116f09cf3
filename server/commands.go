package server

import (
	"io"
	"net/http"
	"net/url"
)

const maxCommandBytes = 1 << 16

// Replies to the slash commands. Slack shows the body verbatim in mrkdwn.
const (
	replyAlreadySubscribed = "You already subscribed!"
	replyUnsubscribed      = "I hate to see you go :("
	replyNotSubscribed     = "I am sorry, but you haven't subscribed yet."
	replyRateLimited       = "Slow down a little and try again in a moment."
	replyFailed            = "Something went wrong. Please try again later."
)

// slackUserID reads the user_id field of a slash command, answering the request itself when it
// cannot continue.
func (s *Server) slackUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	form, err := commandForm(r)
	if err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return "", false
	}
	userID := form.Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id", http.StatusBadRequest)
		return "", false
	}
	if !s.limiter.allow(userID) {
		s.logger.Warn("Rate limit exceeded", "slack_user_id", userID, "path", r.URL.Path)
		s.reply(w, replyRateLimited)
		return "", false
	}
	return userID, true
}

// commandForm decodes the urlencoded body. ParseForm skips bodies of DELETE requests.
func commandForm(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodDelete {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(body))
}

func (s *Server) reply(w http.ResponseWriter, text string) {
	if err := writeText(w, text); err != nil {
		s.logger.Warn("Failed to write command response", "error", err)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.slackUserID(w, r)
	if !ok {
		return
	}

	res, err := s.linker.Subscribe(r.Context(), userID)
	if err != nil {
		s.logger.Error("Subscribe failed", "slack_user_id", userID, "error", err)
		s.reply(w, replyFailed)
		return
	}
	if res.AlreadyLinked {
		s.reply(w, replyAlreadySubscribed)
		return
	}
	s.reply(w, "Cool! Just click <"+res.AuthorizeURL+"|*here*> and allow me to read your Jira profile.")
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.slackUserID(w, r)
	if !ok {
		return
	}

	removed, err := s.linker.Unlink(r.Context(), userID)
	if err != nil {
		s.logger.Error("Unsubscribe failed", "slack_user_id", userID, "error", err)
		s.reply(w, replyFailed)
		return
	}
	if !removed {
		s.reply(w, replyNotSubscribed)
		return
	}
	s.logger.Info("User unsubscribed", "slack_user_id", userID)
	s.reply(w, replyUnsubscribed)
}
