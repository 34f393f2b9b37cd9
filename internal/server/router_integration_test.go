package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/database"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/identifiers"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/players"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serial"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "arkham_session"
	testInvestigator  = "90001"
)

const gatheringGuide = `
id: the_gathering
name: The Gathering
steps:
  - id: investigators
    type: scenario_investigators
  - id: house_fate
    type: choose_one
    choices:
      - text: It still stands
        effects:
          - type: decision
            id: house_burned
            value: false
      - text: It burned down
        effects:
          - type: decision
            id: house_burned
`

type apiFixture struct {
	server *httptest.Server
	issuer *auth.SessionIssuer
}

func testCatalog() *cards.Catalog {
	xp := 0
	all := []cards.Card{{
		Code:             testInvestigator,
		Name:             "Test Investigator",
		TypeCode:         cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{Size: 4},
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian"}, Level: &cards.LevelRange{Min: 0, Max: 5}},
		},
	}}
	for index := 1; index <= 3; index++ {
		all = append(all, cards.Card{
			Code:        fmt.Sprintf("0100%d", index),
			Name:        fmt.Sprintf("Asset %d", index),
			FactionCode: "guardian",
			TypeCode:    "asset",
			XP:          &xp,
		})
	}
	return cards.NewCatalog(all)
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "api.db")}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	guide, err := campaignlog.ParseGuide([]byte(gatheringGuide))
	if err != nil {
		t.Fatalf("failed to parse guide: %v", err)
	}
	registry := cards.NewRegistry(testCatalog(), nil)
	queue := serial.NewQueue()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	playerService, err := players.NewService(players.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct player service: %v", err)
	}
	deckService, err := decks.NewService(decks.ServiceConfig{
		Database:   db,
		Catalogs:   registry,
		IDProvider: identifiers.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct deck service: %v", err)
	}
	campaignService, err := campaigns.NewService(campaigns.ServiceConfig{
		Database:   db,
		Guides:     campaigns.GuideSet{guide.ID: guide},
		Queue:      queue,
		IDProvider: identifiers.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct campaign service: %v", err)
	}
	chaosBagService, err := chaosbag.NewService(chaosbag.ServiceConfig{Database: db, Queue: queue, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct chaos bag service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Players:           playerService,
		Catalogs:          registry,
		DecksService:      deckService,
		CampaignsService:  campaignService,
		ChaosBagService:   chaosBagService,
		Logger:            logger,
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return apiFixture{server: server, issuer: issuer}
}

func (f apiFixture) token(t *testing.T, playerID string) string {
	t.Helper()
	token, _, err := f.issuer.Issue(playerID, playerID+"@example.com", "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// call sends body as JSON and decodes the response into out when out is non-nil.
func (f apiFixture) call(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func TestAPIRejectsRequestsWithoutSession(t *testing.T) {
	fixture := newAPIFixture(t)

	if status := fixture.call(t, http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", status)
	}
	for _, path := range []string{"/decks", "/campaigns", "/me", "/stream"} {
		if status := fixture.call(t, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, status)
		}
	}
	if status := fixture.call(t, http.MethodGet, "/decks", "not-a-token", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", status)
	}
}

func TestAPICardLookupAndValidation(t *testing.T) {
	fixture := newAPIFixture(t)

	var card cards.Card
	if status := fixture.call(t, http.MethodGet, "/cards/01001", "", nil, &card); status != http.StatusOK {
		t.Fatalf("expected card lookup 200, got %d", status)
	}
	if card.Name != "Asset 1" {
		t.Fatalf("unexpected card %+v", card)
	}
	if status := fixture.call(t, http.MethodGet, "/cards/99999", "", nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown card, got %d", status)
	}
	if status := fixture.call(t, http.MethodGet, "/cards/01001?taboo_id=x", "", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed taboo id, got %d", status)
	}

	var legal decks.Result
	fixture.call(t, http.MethodPost, "/decks/validate", "", map[string]interface{}{
		"investigator_code": testInvestigator,
		"slots":             map[string]int{"01001": 2, "01002": 2},
	}, &legal)
	if !legal.Valid {
		t.Fatalf("expected a legal deck, got %+v", legal.Problems)
	}

	var short decks.Result
	fixture.call(t, http.MethodPost, "/decks/validate", "", map[string]interface{}{
		"investigator_code": testInvestigator,
		"slots":             map[string]int{"01001": 1},
	}, &short)
	if short.Valid || len(short.Problems) == 0 || short.Problems[0].Kind != decks.KindDeckSizeTooSmall {
		t.Fatalf("expected an undersized deck, got %+v", short)
	}
}

func TestAPIDeckLifecycle(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "player-1")

	var created decks.Saved
	status := fixture.call(t, http.MethodPost, "/decks", token, map[string]interface{}{
		"name":              "Roland",
		"investigator_code": testInvestigator,
		"slots":             map[string]int{"01001": 2, "01002": 2},
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if created.Deck.Version != decks.InitialVersion || !created.Validation.Valid {
		t.Fatalf("unexpected created deck %+v", created)
	}

	stale := map[string]interface{}{
		"expected_version": "0.7",
		"name":             "Roland",
		"slots":            map[string]int{"01001": 2, "01003": 2},
	}
	var conflict map[string]string
	if status := fixture.call(t, http.MethodPut, "/decks/"+created.Deck.ID, token, stale, &conflict); status != http.StatusConflict {
		t.Fatalf("expected 409 for a stale edit, got %d", status)
	}
	if conflict["error"] != "version_conflict" {
		t.Fatalf("unexpected conflict body %v", conflict)
	}

	stale["expected_version"] = created.Deck.Version.String()
	var updated decks.Saved
	if status := fixture.call(t, http.MethodPut, "/decks/"+created.Deck.ID, token, stale, &updated); status != http.StatusOK {
		t.Fatalf("expected 200 for a current edit, got %d", status)
	}
	if updated.Deck.Version.String() != "0.2" || updated.Deck.Slots["01003"] != 2 {
		t.Fatalf("unexpected updated deck %+v", updated.Deck)
	}

	other := fixture.token(t, "player-2")
	if status := fixture.call(t, http.MethodGet, "/decks/"+created.Deck.ID, other, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected other players to get 404, got %d", status)
	}

	var listed struct {
		Decks []decks.Deck `json:"decks"`
	}
	fixture.call(t, http.MethodGet, "/decks", token, nil, &listed)
	if len(listed.Decks) != 1 || listed.Decks[0].ID != created.Deck.ID {
		t.Fatalf("unexpected deck list %+v", listed.Decks)
	}
}

func TestAPICampaignStepsAndChaosBag(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "player-1")

	var campaign campaigns.Campaign
	status := fixture.call(t, http.MethodPost, "/campaigns", token, map[string]string{
		"name":     "Night of the Zealot",
		"guide_id": "the_gathering",
	}, &campaign)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}

	stepPath := "/campaigns/" + campaign.ID + "/steps/"
	var outOfOrder map[string]string
	status = fixture.call(t, http.MethodPost, stepPath+"house_fate", token, map[string]interface{}{
		"answer": map[string]int{"choice": 1},
	}, &outOfOrder)
	if status != http.StatusConflict || outOfOrder["code"] != "campaigns.answer.out_of_order" {
		t.Fatalf("expected out_of_order conflict, got %d %v", status, outOfOrder)
	}
	if status := fixture.call(t, http.MethodPost, stepPath+"epilogue", token, map[string]interface{}{}, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown step, got %d", status)
	}

	var answered campaigns.StepResult
	status = fixture.call(t, http.MethodPost, stepPath+"investigators", token, map[string]interface{}{
		"base_version": campaign.Version,
		"answer":       map[string][]string{"investigators": {testInvestigator}},
	}, &answered)
	if status != http.StatusOK || !answered.Outcome.Applied() || answered.Campaign.Version != 1 {
		t.Fatalf("unexpected investigators answer %d %+v", status, answered)
	}

	var logPayload struct {
		Version     int    `json:"version"`
		PendingStep string `json:"pending_step"`
	}
	fixture.call(t, http.MethodGet, "/campaigns/"+campaign.ID+"/log", token, nil, &logPayload)
	if logPayload.Version != 1 || logPayload.PendingStep != "house_fate" {
		t.Fatalf("unexpected log payload %+v", logPayload)
	}

	bagPath := "/campaigns/" + campaign.ID + "/chaos-bag"
	var empty chaosbag.Results
	fixture.call(t, http.MethodGet, bagPath, token, nil, &empty)
	if empty.Version != 0 || empty.Bless != 0 {
		t.Fatalf("unexpected empty bag %+v", empty)
	}
	var blessed chaosbag.Results
	if status := fixture.call(t, http.MethodPost, bagPath+"/bless-inc", token, nil, &blessed); status != http.StatusOK {
		t.Fatalf("expected 200 for bless-inc, got %d", status)
	}
	if blessed.Bless != 1 || blessed.Version != 1 {
		t.Fatalf("unexpected blessed bag %+v", blessed)
	}
	var drawn chaosbag.Results
	fixture.call(t, http.MethodPost, bagPath+"/draw", token, map[string]interface{}{"drawn": []string{"skull", "bless"}}, &drawn)
	if drawn.TotalDrawn != 1 || len(drawn.Drawn) != 2 || drawn.Version != 2 {
		t.Fatalf("unexpected drawn bag %+v", drawn)
	}
	if status := fixture.call(t, http.MethodPost, bagPath+"/shake", token, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", status)
	}

	other := fixture.token(t, "player-2")
	if status := fixture.call(t, http.MethodPost, bagPath+"/curse-inc", other, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected other players to get 404, got %d", status)
	}
}

func TestAPIStreamDeliversCampaignChanges(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "player-1")

	var campaign campaigns.Campaign
	fixture.call(t, http.MethodPost, "/campaigns", token, map[string]string{
		"name":     "Stream",
		"guide_id": "the_gathering",
	}, &campaign)

	streamResp, err := http.Get(fixture.server.URL + "/stream?access_token=" + token)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	streamReader := bufio.NewReader(streamResp.Body)

	// The initial heartbeat is flushed once the subscription is registered.
	waitForEvent(t, streamReader, realtimeEventHeartbeat)

	fixture.call(t, http.MethodPost, "/campaigns/"+campaign.ID+"/chaos-bag/curse-inc", token, nil, nil)

	data := waitForEvent(t, streamReader, RealtimeEventCampaignChanged)
	var message RealtimeMessage
	if err := json.Unmarshal([]byte(data), &message); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if message.CampaignID != campaign.ID || message.Scope != scopeChaosBag || message.Version != "1" {
		t.Fatalf("unexpected realtime message %+v", message)
	}
}

// waitForEvent reads server-sent events until one of eventType arrives and
// returns its data line.
func waitForEvent(t *testing.T, reader *bufio.Reader, eventType string) string {
	t.Helper()
	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") && currentEventType == eventType {
				return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}
}
