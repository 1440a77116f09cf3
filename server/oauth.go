package server

import (
	"net/http"
)

func (s *Server) handleSlackOAuth(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		if r.URL.Query().Get("success") == "true" {
			s.renderPage(w, http.StatusOK, page{Title: "Installed", Message: "The Slack app is installed."})
			return
		}
		s.renderPage(w, http.StatusBadRequest, page{Title: "Missing code", Message: "No authorization code was supplied."})
		return
	}

	res, err := s.linker.CompleteChatInstall(r.Context(), code)
	if err != nil {
		s.oauthFailed(w, "slack_install", err)
		return
	}

	if res.JiraURL != "" {
		s.renderPage(w, http.StatusOK, page{
			Title:    "All set",
			Message:  "Cool. You're all set!",
			LinkURL:  res.JiraURL,
			LinkText: res.JiraURL,
		})
		return
	}
	s.renderPage(w, http.StatusOK, page{
		Title:    "One more step",
		Message:  "Cool. Now authorize the Jira app.",
		LinkURL:  res.SetupURL,
		LinkText: "Authorize Jira",
	})
}

func (s *Server) handleSlackOAuthPost(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/oauth?success=true", http.StatusFound)
}

func (s *Server) handleJiraOAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		s.renderPage(w, http.StatusBadRequest, page{Title: "Missing code", Message: "No authorization code was supplied."})
		return
	}

	state := q.Get("state")
	if state == "" {
		s.completeSetup(w, r, code)
		return
	}

	res, err := s.linker.CompleteLink(r.Context(), code, state)
	if err != nil {
		s.oauthFailed(w, "jira_link", err)
		return
	}
	s.logger.Info("User subscribed", "slack_user_id", res.SlackUserID, "jira_account_id", res.JiraAccountID)
	s.renderPage(w, http.StatusOK, page{Title: "Subscribed", Message: "You are subscribed now, " + res.Name + "!"})
}

func (s *Server) completeSetup(w http.ResponseWriter, r *http.Request, code string) {
	res, err := s.linker.CompleteTrackerSetup(r.Context(), code)
	if err != nil {
		s.oauthFailed(w, "jira_setup", err)
		return
	}

	if res.InstallURL != "" {
		s.renderPage(w, http.StatusOK, page{
			Title:    "One more step",
			Message:  "Jira is connected. Now add the app to Slack.",
			LinkURL:  res.InstallURL,
			LinkText: "Add to Slack",
		})
		return
	}
	s.renderPage(w, http.StatusOK, page{Title: "All set", Message: "Jira is connected. Way to go."})
}
