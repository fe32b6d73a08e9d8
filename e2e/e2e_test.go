package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"testing"
	"time"
)

var (
	baseURL  = "http://localhost:8080"
	kioskPIN = "1234"
)

// Response types (self-contained, no dependency on main module)

type Guest struct {
	ID                  string  `json:"id"`
	Guest               string  `json:"guest"`
	ArrivalConfirmation string  `json:"arrivalConfirmation"`
	GuestCheckIn        bool    `json:"guestCheckIn"`
	PlusOneCheckIn      bool    `json:"plusOneCheckIn"`
	CheckInTime         *string `json:"checkInTime"`
	GiftReceived        bool    `json:"giftReceived"`
	FarewellTime        *string `json:"farewellTime"`
}

type Page struct {
	Records []Guest `json:"records"`
	Offset  string  `json:"offset"`
	Stats   *struct {
		Arrived      int `json:"arrived"`
		GiftsGiven   int `json:"giftsGiven"`
		TotalInvited int `json:"totalInvited"`
	} `json:"stats"`
}

type CreateResponse struct {
	Ok bool   `json:"ok"`
	Id string `json:"id"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

func TestMain(m *testing.M) {
	if u := os.Getenv("API_URL"); u != "" {
		baseURL = u
	}
	if p := os.Getenv("KIOSK_PIN"); p != "" {
		kioskPIN = p
	}

	if !waitForHealthy(15 * time.Second) {
		fmt.Fprintf(os.Stderr, "ERROR: API at %s not healthy after timeout\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func waitForHealthy(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return true
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// session returns a client holding a kiosk session cookie.
func session(t *testing.T) *http.Client {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	resp := postJSON(t, client, "/auth/login", map[string]string{"role": "kiosk", "pin": kioskPIN})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	return client
}

func postJSON(t *testing.T, client *http.Client, path string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	req, _ := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func createGuest(t *testing.T, client *http.Client, name string) string {
	t.Helper()
	resp := postJSON(t, client, "/guests", map[string]string{"guest": name})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var out CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.Ok || out.Id == "" {
		t.Fatalf("expected ok with id, got %+v", out)
	}
	return out.Id
}

func findGuest(t *testing.T, client *http.Client, name, id string) Guest {
	t.Helper()
	resp, err := client.Get(baseURL + "/guests?limit=100&q=" + url.QueryEscape(name))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for _, g := range page.Records {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("guest %s not found in filtered list", id)
	return Guest{}
}

// --- Happy path ---

func TestCreatedGuestIsListedEmpty(t *testing.T) {
	client := session(t)
	// Reason: unique name so reruns against the same table do not collide
	name := fmt.Sprintf("Ana Perić %d", time.Now().UnixNano())
	id := createGuest(t, client, name)

	g := findGuest(t, client, name, id)
	if g.ArrivalConfirmation != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN confirmation, got %q", g.ArrivalConfirmation)
	}
	if g.GuestCheckIn || g.PlusOneCheckIn || g.GiftReceived {
		t.Fatalf("expected no check-in and no gift, got %+v", g)
	}
	if g.CheckInTime != nil || g.FarewellTime != nil {
		t.Fatal("expected both timestamps null")
	}
}

func TestCheckInSetsAndClearsTime(t *testing.T) {
	client := session(t)
	name := fmt.Sprintf("Ivan Horvat %d", time.Now().UnixNano())
	id := createGuest(t, client, name)

	resp := postJSON(t, client, "/checkin", map[string]any{"recordId": id, "guest": true, "plusOne": false})
	defer resp.Body.Close()
	var in Guest
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !in.GuestCheckIn || in.CheckInTime == nil {
		t.Fatalf("expected checked in with time, got %+v", in)
	}

	resp2 := postJSON(t, client, "/checkin", map[string]any{"recordId": id, "guest": false, "plusOne": false})
	defer resp2.Body.Close()
	var out Guest
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.GuestCheckIn || out.CheckInTime != nil {
		t.Fatalf("expected cleared check-in, got %+v", out)
	}
}

func TestGiftOnThenOff(t *testing.T) {
	client := session(t)
	name := fmt.Sprintf("Marko Marić %d", time.Now().UnixNano())
	id := createGuest(t, client, name)

	for _, v := range []bool{true, false} {
		resp := postJSON(t, client, "/gift", map[string]any{"recordId": id, "value": v})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("gift=%v: expected 200, got %d", v, resp.StatusCode)
		}
	}

	g := findGuest(t, client, name, id)
	if g.GiftReceived || g.FarewellTime != nil {
		t.Fatalf("expected no gift and no farewell time, got %+v", g)
	}
}

// --- Fault cases ---

func TestGuestsRequireSession(t *testing.T) {
	resp, err := http.Get(baseURL + "/guests")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginWrongPIN(t *testing.T) {
	resp := postJSON(t, http.DefaultClient, "/auth/login", map[string]string{"role": "kiosk", "pin": "not-the-pin"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCheckInUnknownRecord(t *testing.T) {
	client := session(t)
	resp := postJSON(t, client, "/checkin", map[string]any{"recordId": "recDoesNotExist00", "guest": true, "plusOne": false})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCheckInMissingFields(t *testing.T) {
	client := session(t)
	resp := postJSON(t, client, "/checkin", map[string]any{"recordId": "recX"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		t.Fatalf("expected error message, got %v", err)
	}
}

func TestCreateGuestBlankName(t *testing.T) {
	client := session(t)
	resp := postJSON(t, client, "/guests", map[string]string{"guest": "   "})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", resp.StatusCode)
	}
}

func TestListLimitOutOfRange(t *testing.T) {
	client := session(t)
	resp, err := client.Get(baseURL + "/guests?limit=1000")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
