package service

import (
	"context"
	"errors"
	"testing"

	"livecode/internal/monitor/model"
	appErr "livecode/pkg/errors"
)

var cse2023A = model.CohortFilter{StartYear: 2023, Branch: "CSE", Section: "A"}

func TestFetchTwoStudentsWithOneSubmission(t *testing.T) {
	store := newFakeStore()
	store.cohorts["T1"] = cse2023A
	store.students[cse2023A] = []model.StudentRow{
		{StudentID: "s2", GivenName: "Alan", Surname: "Turing", Status: strPtr(model.StatusInProgress), Progress: floatPtr(50)},
		{StudentID: "s1", GivenName: "Ada", Surname: "Lovelace"},
	}
	store.scores["T1"] = map[string]float64{"s2": 85}

	got, err := NewSynchronizer(store).Fetch(context.Background(), "T1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("students = %d", len(got))
	}
	if got[0].StudentID != "s1" || got[1].StudentID != "s2" {
		t.Fatalf("order = %s, %s", got[0].StudentID, got[1].StudentID)
	}
	if got[0].Score != 0 || got[1].Score != 85 {
		t.Fatalf("scores = %v, %v", got[0].Score, got[1].Score)
	}
	if got[0].Status != model.StatusNotStarted || got[0].Progress != 0 {
		t.Fatalf("defaults not applied: %+v", got[0])
	}
	if got[1].Status != model.StatusInProgress || got[1].Progress != 50 || got[1].Name != "Alan Turing" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestBuildSnapshotsOrdering(t *testing.T) {
	rows := []model.StudentRow{
		{StudentID: "c", GivenName: "Bo", Surname: "Smith"},
		{StudentID: "b", GivenName: "Al", Surname: "Smith"},
		{StudentID: "a", GivenName: "Bo", Surname: "Smith"},
		{StudentID: "d", GivenName: "Zed", Surname: "Adams"},
	}
	got := buildSnapshots(rows, nil)
	want := []string{"d", "b", "a", "c"}
	for i, id := range want {
		if got[i].StudentID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].StudentID, id)
		}
	}
	if rows[0].StudentID != "c" {
		t.Fatalf("input slice was reordered")
	}
}

func TestFetchUnknownTest(t *testing.T) {
	_, err := NewSynchronizer(newFakeStore()).Fetch(context.Background(), "nope")
	if !appErr.Is(err, appErr.TestNotFound) {
		t.Fatalf("err = %v, want TestNotFound", err)
	}
}

func TestFetchWrapsStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.cohorts["T1"] = cse2023A
	store.listErr = errors.New("too many connections")

	_, err := NewSynchronizer(store).Fetch(context.Background(), "T1")
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("err = %v, want DatabaseError", err)
	}
}

func TestFetchEmptyCohort(t *testing.T) {
	store := newFakeStore()
	store.cohorts["T1"] = cse2023A

	got, err := NewSynchronizer(store).Fetch(context.Background(), "T1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got = %#v, want empty non-nil", got)
	}
}
