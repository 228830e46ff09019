package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poemsforaphrodite/podcast/internal/domain"
)

func TestLifecycle(t *testing.T) {
	s := NewStore(10, time.Hour, false)
	id := s.Create()

	ok := s.Update(id, func(st *State) {
		st.Query = "sleep"
		st.Posts = []domain.SocialPost{{ID: "a"}, {ID: "b"}, {ID: "c"}}
		st.Selected["c"] = true
		st.Selected["a"] = true
	})
	if !ok {
		t.Fatal("Update on live session returned false")
	}

	st, ok := s.Get(id)
	if !ok || st.Query != "sleep" {
		t.Fatalf("Get = %+v, %v", st, ok)
	}
	if got := st.SelectedIDs(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("SelectedIDs = %v", got)
	}

	s.Clear(id)
	st, _ = s.Get(id)
	if len(st.Posts) != 0 || len(st.Selected) != 0 || st.Query != "sleep" {
		t.Errorf("after Clear: %+v", st)
	}

	s.Delete(id)
	if _, ok := s.Get(id); ok {
		t.Error("session survived Delete")
	}
	if s.Update(id, func(*State) {}) {
		t.Error("Update on deleted session returned true")
	}
}

func TestExpiry(t *testing.T) {
	s := NewStore(10, 20*time.Millisecond, false)
	id := s.Create()
	time.Sleep(60 * time.Millisecond)
	if _, ok := s.Get(id); ok {
		t.Error("session did not expire")
	}
}

func TestFromRequest(t *testing.T) {
	s := NewStore(10, time.Hour, false)

	rec := httptest.NewRecorder()
	id := s.FromRequest(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != id || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec2 := httptest.NewRecorder()
	if again := s.FromRequest(rec2, req); again != id {
		t.Errorf("existing session not reused: %s != %s", again, id)
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Error("cookie re-set for existing session")
	}

	stale := httptest.NewRequest(http.MethodGet, "/", nil)
	stale.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-session"})
	if fresh := s.FromRequest(httptest.NewRecorder(), stale); fresh == "not-a-session" {
		t.Error("unknown cookie value accepted")
	}
}
