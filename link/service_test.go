package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"jira-mention-notifier/jira"
	"jira-mention-notifier/pkg/notifier"
	"jira-mention-notifier/slack"
	"jira-mention-notifier/storage"
)

type fakeInstaller struct {
	err error
}

func (f *fakeInstaller) Access(_ context.Context, code string) (*slack.Installation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &slack.Installation{AccessToken: "xoxb-" + code, TeamName: "Acme", UserID: "UADMIN"}, nil
}

type fakeTracker struct {
	tokens    *jira.Tokens
	resources []jira.Resource
	account   *jira.Account
}

func (f *fakeTracker) ExchangeCode(context.Context, string) (*jira.Tokens, error) {
	return f.tokens, nil
}

func (f *fakeTracker) AccessibleResources(context.Context, string) ([]jira.Resource, error) {
	return f.resources, nil
}

func (f *fakeTracker) Me(context.Context, string) (*jira.Account, error) {
	return f.account, nil
}

func newService(t *testing.T, tracker Tracker) (*Service, storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewBucket(nil, "", t.TempDir(), logger)
	signer := NewStateSigner([]byte("secret"), time.Minute, nil)
	urls := &URLs{
		JiraClientID:     "jira-cid",
		SlackClientID:    "slack-cid",
		JiraRedirectURI:  "https://n.example.com/jira/oauth",
		SlackRedirectURI: "https://n.example.com/oauth",
	}
	return New(store, &fakeInstaller{}, tracker, signer, urls, logger), store
}

func defaultTracker() *fakeTracker {
	return &fakeTracker{
		tokens:    &jira.Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"},
		resources: []jira.Resource{{ID: "cloud-1", URL: "https://acme.atlassian.net", Name: "acme"}},
		account:   &jira.Account{AccountID: "acc-1", Name: "Ann"},
	}
}

func TestSlackInstallThenJiraSetup(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, defaultTracker())

	inst, err := svc.CompleteChatInstall(ctx, "c1")
	if err != nil {
		t.Fatalf("CompleteChatInstall() error = %v", err)
	}
	if inst.SetupURL == "" || inst.JiraURL != "" {
		t.Errorf("install result = %+v, want setup link", inst)
	}
	if tok, _ := store.SlackToken(ctx); tok != "xoxb-c1" {
		t.Errorf("slack token = %q", tok)
	}

	setup, err := svc.CompleteTrackerSetup(ctx, "c2")
	if err != nil {
		t.Fatalf("CompleteTrackerSetup() error = %v", err)
	}
	if setup.SiteURL != "https://acme.atlassian.net" || setup.InstallURL != "" {
		t.Errorf("setup result = %+v", setup)
	}
	cloudID, siteURL, err := store.JiraInstance(ctx)
	if err != nil || cloudID != "cloud-1" || siteURL != "https://acme.atlassian.net" {
		t.Errorf("JiraInstance() = %q, %q, %v", cloudID, siteURL, err)
	}
	if tok, _ := store.JiraRefreshToken(ctx); tok != "refresh-1" {
		t.Errorf("refresh token = %q", tok)
	}

	// Reinstalling once Jira is connected reports the site instead of a setup link.
	inst, err = svc.CompleteChatInstall(ctx, "c3")
	if err != nil {
		t.Fatalf("CompleteChatInstall() error = %v", err)
	}
	if inst.JiraURL != "https://acme.atlassian.net" || inst.SetupURL != "" {
		t.Errorf("install result = %+v", inst)
	}
}

func TestJiraSetupBeforeSlackInstall(t *testing.T) {
	svc, _ := newService(t, defaultTracker())

	setup, err := svc.CompleteTrackerSetup(context.Background(), "c1")
	if err != nil {
		t.Fatalf("CompleteTrackerSetup() error = %v", err)
	}
	u, err := url.Parse(setup.InstallURL)
	if err != nil || u.Host != "slack.com" {
		t.Fatalf("install url = %q", setup.InstallURL)
	}
	if u.Query().Get("scope") != "im:read,im:write,chat:write,commands" {
		t.Errorf("scope = %q", u.Query().Get("scope"))
	}
}

func TestJiraSetupWithoutSites(t *testing.T) {
	tracker := defaultTracker()
	tracker.resources = nil
	svc, store := newService(t, tracker)

	if _, err := svc.CompleteTrackerSetup(context.Background(), "c1"); err == nil {
		t.Fatal("CompleteTrackerSetup() error = nil")
	}
	if _, err := store.JiraToken(context.Background()); !notifier.IsNotFound(err) {
		t.Errorf("token stored despite failure: %v", err)
	}
}

func TestSubscribeLinkUnlink(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, defaultTracker())

	sub, err := svc.Subscribe(ctx, "U1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.AlreadyLinked {
		t.Fatal("Subscribe() reported an existing link")
	}
	u, err := url.Parse(sub.AuthorizeURL)
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	q := u.Query()
	if q.Get("scope") != "read:me" || q.Get("client_id") != "jira-cid" || q.Get("redirect_uri") != "https://n.example.com/jira/oauth" {
		t.Errorf("authorize query = %v", q)
	}

	res, err := svc.CompleteLink(ctx, "code", q.Get("state"))
	if err != nil {
		t.Fatalf("CompleteLink() error = %v", err)
	}
	if res.JiraAccountID != "acc-1" || res.SlackUserID != "U1" || res.Name != "Ann" {
		t.Errorf("link = %+v", res)
	}
	if rec, err := store.Link(ctx, "acc-1"); err != nil || rec.SlackUserID != "U1" {
		t.Errorf("Link() = %+v, %v", rec, err)
	}
	// A user-level authorization never replaces the workspace token.
	if _, err := store.JiraToken(ctx); !notifier.IsNotFound(err) {
		t.Errorf("workspace token written by link flow: %v", err)
	}

	sub, err = svc.Subscribe(ctx, "U1")
	if err != nil || !sub.AlreadyLinked {
		t.Errorf("Subscribe() after link = %+v, %v", sub, err)
	}

	removed, err := svc.Unlink(ctx, "U1")
	if err != nil || !removed {
		t.Fatalf("Unlink() = %v, %v", removed, err)
	}
	removed, err = svc.Unlink(ctx, "U1")
	if err != nil || removed {
		t.Errorf("second Unlink() = %v, %v", removed, err)
	}
}

func TestCompleteLinkRejectsForgedState(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, defaultTracker())

	_, err := svc.CompleteLink(ctx, "code", "U1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("CompleteLink() error = %v, want ErrInvalidState", err)
	}
	if _, err := store.Link(ctx, "acc-1"); !notifier.IsNotFound(err) {
		t.Errorf("link stored for forged state: %v", err)
	}
}

func TestChatInstallFailure(t *testing.T) {
	svc, _ := newService(t, defaultTracker())
	svc.installer = &fakeInstaller{err: errors.New("invalid_code")}

	if _, err := svc.CompleteChatInstall(context.Background(), "bad"); err == nil {
		t.Error("CompleteChatInstall() error = nil")
	}
}

func TestJiraSetupURL(t *testing.T) {
	urls := &URLs{JiraClientID: "cid", JiraRedirectURI: "https://n.example.com/jira/oauth"}
	u, err := url.Parse(urls.JiraSetup())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "auth.atlassian.com" || u.Path != "/authorize" {
		t.Errorf("url = %s", u)
	}
	q := u.Query()
	if q.Get("audience") != "api.atlassian.com" || q.Get("scope") != "read:jira-work offline_access" ||
		q.Get("prompt") != "consent" || q.Get("response_type") != "code" || q.Has("state") {
		t.Errorf("query = %v", q)
	}
}
