package workflow

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"grader-bot/api/internal/gateway"
)

type fakeAPI struct {
	mu           sync.Mutex
	extractRes   *gateway.ExtractedData
	extractErr   error
	gradeRes     *gateway.GradingResult
	gradeErr     error
	extractCalls int
	gradeCalls   int

	lastToken       string
	lastExtracted   *gateway.ExtractedData
	lastCorrections map[string]string

	entered chan struct{} // closed/pinged when a call starts, if set
	release chan struct{} // call blocks until closed, if set
}

func (f *fakeAPI) Extract(ctx context.Context, token string, doc *gateway.Document) (*gateway.ExtractedData, error) {
	f.mu.Lock()
	f.extractCalls++
	f.lastToken = token
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.extractRes, f.extractErr
}

func (f *fakeAPI) Grade(ctx context.Context, token string, extracted *gateway.ExtractedData, corrections map[string]string) (*gateway.GradingResult, error) {
	f.mu.Lock()
	f.gradeCalls++
	f.lastToken = token
	f.lastExtracted = extracted
	f.lastCorrections = corrections
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.gradeRes, f.gradeErr
}

func extraction() *gateway.ExtractedData {
	return &gateway.ExtractedData{
		MHEType:         "forklift",
		ParticipantName: "Anna",
		TestType:        "safety",
		TotalQuestions:  2,
		Answers:         map[string]string{"1": "TRUE", "2": "FALSE"},
	}
}

func loggedIn(api API) *Controller {
	c := New(api, func() string { return "tok" })
	c.Login()
	return c
}

func TestHappyPathWithEdit(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeRes: &gateway.GradingResult{Grade: "PASS", Percentage: 50}}
	c := loggedIn(f)

	if err := c.SelectDocument(&gateway.Document{Name: "p.jpg"}); err != nil {
		t.Fatalf("SelectDocument: %v", err)
	}
	if c.State() != StateFileSelected {
		t.Fatalf("state = %v", c.State())
	}
	if err := c.Extract(context.Background()); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if c.State() != StateReviewing {
		t.Fatalf("state = %v", c.State())
	}
	if err := c.EditAnswer("2", "Don't Know"); err != nil {
		t.Fatalf("EditAnswer: %v", err)
	}
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.State() != StateCompleted {
		t.Fatalf("state = %v", c.State())
	}

	wantCorr := map[string]string{"1": "TRUE", "2": "Don't Know"}
	if !reflect.DeepEqual(f.lastCorrections, wantCorr) {
		t.Errorf("corrected_answers = %v, want %v", f.lastCorrections, wantCorr)
	}
	wantOrig := map[string]string{"1": "TRUE", "2": "FALSE"}
	if !reflect.DeepEqual(f.lastExtracted.Answers, wantOrig) {
		t.Errorf("extracted answers mutated: %v, want %v", f.lastExtracted.Answers, wantOrig)
	}
	if f.lastToken != "tok" {
		t.Errorf("token = %q", f.lastToken)
	}
	if c.Result().Grade != "PASS" {
		t.Errorf("result = %+v", c.Result())
	}
}

func TestSubmitUnchangedSendsIdenticalMap(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeRes: &gateway.GradingResult{}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !reflect.DeepEqual(f.lastCorrections, f.lastExtracted.Answers) {
		t.Errorf("untouched corrections differ: %v vs %v", f.lastCorrections, f.lastExtracted.Answers)
	}
}

func TestExtractFailureKeepsFile(t *testing.T) {
	f := &fakeAPI{extractErr: &gateway.Error{Kind: gateway.KindNetwork, Message: "no route"}}
	c := loggedIn(f)
	doc := &gateway.Document{Name: "p.jpg"}
	_ = c.SelectDocument(doc)

	if err := c.Extract(context.Background()); err == nil {
		t.Fatal("want error")
	}
	if c.State() != StateFileSelected {
		t.Errorf("state = %v, want file_selected", c.State())
	}
	if c.Err() == "" {
		t.Error("error overlay not set")
	}
	if c.Document() != doc {
		t.Error("selected file lost; retry would need a re-pick")
	}

	// retry succeeds without selecting again
	f.mu.Lock()
	f.extractErr = nil
	f.extractRes = extraction()
	f.mu.Unlock()
	if err := c.Extract(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.State() != StateReviewing || c.Err() != "" {
		t.Errorf("state = %v, err = %q", c.State(), c.Err())
	}
}

func TestSubmitFailureKeepsReview(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeErr: &gateway.Error{Kind: gateway.KindServer, Message: "boom"}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())
	_ = c.EditAnswer("2", "Don't Know")

	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("want error")
	}
	if c.State() != StateReviewing {
		t.Errorf("state = %v, want reviewing", c.State())
	}
	if c.Extraction() == nil || c.Corrections()["2"] != "Don't Know" {
		t.Error("review state lost; resubmission would need re-extracting")
	}
}

func TestDuplicateSubmitIssuesOneRequest(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeRes: &gateway.GradingResult{}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())

	f.mu.Lock()
	f.entered = make(chan struct{}, 1)
	f.release = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-f.entered // first submit is in flight

	if err := c.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second submit: %v, want ErrBusy", err)
	}

	close(f.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f.mu.Lock()
	calls := f.gradeCalls
	f.mu.Unlock()
	if calls != 1 {
		t.Errorf("grade calls = %d, want 1", calls)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeRes: &gateway.GradingResult{Grade: "PASS"}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())
	_ = c.Submit(context.Background())

	c.Reset()
	c.Reset()
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if c.Document() != nil || c.Extraction() != nil || c.Result() != nil || len(c.Corrections()) != 0 {
		t.Error("transient entities survived reset")
	}
}

func TestLateExtractionDiscardedAfterReset(t *testing.T) {
	f := &fakeAPI{
		extractRes: extraction(),
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})

	done := make(chan error, 1)
	go func() { done <- c.Extract(context.Background()) }()
	<-f.entered

	c.Reset() // user starts over while the call hangs

	close(f.release)
	if err := <-done; err != nil {
		t.Fatalf("late extract returned error: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, late response won over reset", c.State())
	}
	if c.Extraction() != nil {
		t.Error("stale extraction applied after reset")
	}
}

func TestForceLogoutFromAnyState(t *testing.T) {
	f := &fakeAPI{extractRes: extraction()}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())

	c.ForceLogout("Session expired. Please /login again.")
	if c.State() != StateLoggedOut {
		t.Errorf("state = %v, want logged_out", c.State())
	}
	if c.Err() == "" {
		t.Error("session-expired message missing")
	}
	if c.Extraction() != nil || len(c.Corrections()) != 0 || c.Document() != nil {
		t.Error("teardown incomplete")
	}
}

func TestForceLogoutDuringGradeDiscardsResult(t *testing.T) {
	f := &fakeAPI{
		extractRes: extraction(),
		gradeRes:   &gateway.GradingResult{Grade: "PASS"},
	}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())

	f.mu.Lock()
	f.entered = make(chan struct{}, 1)
	f.release = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-f.entered

	c.ForceLogout("Session expired. Please /login again.")
	close(f.release)
	if err := <-done; err != nil {
		t.Fatalf("late grade returned error: %v", err)
	}
	if c.State() != StateLoggedOut || c.Result() != nil {
		t.Errorf("state = %v result = %v; stale grade applied after expiry", c.State(), c.Result())
	}
}

func TestEditAnswerGuards(t *testing.T) {
	f := &fakeAPI{extractRes: extraction()}
	c := loggedIn(f)
	if err := c.EditAnswer("1", "TRUE"); !errors.Is(err, ErrBadState) {
		t.Errorf("edit outside reviewing: %v, want ErrBadState", err)
	}
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())
	if err := c.EditAnswer("99", "TRUE"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestSelectDocumentReplacesPriorRun(t *testing.T) {
	f := &fakeAPI{extractRes: extraction(), gradeRes: &gateway.GradingResult{Grade: "PASS"}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "a.jpg"})
	_ = c.Extract(context.Background())
	_ = c.Submit(context.Background())

	if err := c.SelectDocument(&gateway.Document{Name: "b.jpg"}); err != nil {
		t.Fatalf("SelectDocument: %v", err)
	}
	if c.State() != StateFileSelected {
		t.Errorf("state = %v", c.State())
	}
	if c.Extraction() != nil || c.Result() != nil {
		t.Error("prior extraction/result not cleared")
	}
	if c.Document().Name != "b.jpg" {
		t.Error("document not replaced")
	}
}

func TestLoggedOutRejectsWork(t *testing.T) {
	f := &fakeAPI{}
	c := New(f, func() string { return "" })
	if err := c.SelectDocument(&gateway.Document{Name: "a.jpg"}); !errors.Is(err, ErrBadState) {
		t.Errorf("select while logged out: %v", err)
	}
	if err := c.Extract(context.Background()); !errors.Is(err, ErrBadState) {
		t.Errorf("extract while logged out: %v", err)
	}
}

func TestOrderedKeys(t *testing.T) {
	f := &fakeAPI{extractRes: &gateway.ExtractedData{
		Answers: map[string]string{"2": "TRUE", "1a": "TRUE", "10": "FALSE", "1b": "TRUE"},
	}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	_ = c.Extract(context.Background())

	want := []string{"1a", "1b", "2", "10"}
	if got := c.OrderedKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("OrderedKeys = %v, want %v", got, want)
	}
}

func TestErrorOverlayCarriesGatewayMessage(t *testing.T) {
	f := &fakeAPI{extractErr: &gateway.Error{Kind: gateway.KindNetwork, Message: "timeout"}}
	c := loggedIn(f)
	_ = c.SelectDocument(&gateway.Document{Name: "p.jpg"})
	if err := c.Extract(context.Background()); err == nil {
		t.Fatal("want error")
	}
	if c.Err() != "timeout" {
		t.Errorf("overlay = %q", c.Err())
	}
}
