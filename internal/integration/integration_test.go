//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httpapi "github.com/barterhub/barterhub/internal/api/http"
	appExchange "github.com/barterhub/barterhub/internal/application/exchange"
	appListing "github.com/barterhub/barterhub/internal/application/listing"
	"github.com/barterhub/barterhub/internal/application/matching"
	appProposal "github.com/barterhub/barterhub/internal/application/proposal"
	appUser "github.com/barterhub/barterhub/internal/application/user"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/infrastructure/clock"
	"github.com/barterhub/barterhub/internal/infrastructure/memstore"
	"github.com/barterhub/barterhub/internal/infrastructure/sse"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	listingRepo := memstore.NewListingRepository()
	proposalRepo := memstore.NewProposalRepository()
	tradeRepo := memstore.NewTradeRepository()
	userRepo := memstore.NewUserRepository()

	hub := sse.NewHub()
	t.Cleanup(hub.Stop)
	clk := clock.System{}
	index := matching.NewIndex()

	userSvc := appUser.NewService(userRepo, logger)
	matchingSvc := matching.NewService(listingRepo, userRepo, index, matching.Config{MaxCycleLen: 4}, logger)
	exchangeSvc := appExchange.NewService(listingRepo, proposalRepo, tradeRepo, index, hub, clk, logger)
	proposalSvc := appProposal.NewService(proposalRepo, listingRepo, userRepo, exchangeSvc, hub, clk, time.Hour, 4, logger)
	listingSvc := appListing.NewService(listingRepo, userRepo, index, proposalSvc, hub, logger)

	api := httpapi.NewServer(userSvc, listingSvc, matchingSvc, proposalSvc, exchangeSvc, hub)
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d: %s", method, url, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode response: %v: %s", err, raw)
		}
	}
}

type userResponse struct {
	UserID uuid.UUID `json:"userId"`
}

type listingResponse struct {
	ListingID uuid.UUID `json:"listingId"`
	Status    string    `json:"status"`
}

func registerUser(t *testing.T, base, username string) uuid.UUID {
	t.Helper()
	var u userResponse
	doJSON(t, http.MethodPost, base+"/v1/users", map[string]interface{}{
		"username": username,
	}, http.StatusCreated, &u)
	return u.UserID
}

func createListing(t *testing.T, base string, owner uuid.UUID, direction, category string) uuid.UUID {
	t.Helper()
	var l listingResponse
	doJSON(t, http.MethodPost, base+"/v1/listings", map[string]interface{}{
		"owner_id":   owner.String(),
		"direction":  direction,
		"categories": []string{category},
	}, http.StatusCreated, &l)
	return l.ListingID
}

func getListingStatus(t *testing.T, base string, id uuid.UUID) string {
	t.Helper()
	var l listingResponse
	doJSON(t, http.MethodGet, base+"/v1/listings/"+id.String(), nil, http.StatusOK, &l)
	return l.Status
}

// Three members whose offers and wants form a ring: the engine finds the
// 3-party cycle, everyone accepts, the swap commits and the ledger stays
// verifiable.
func TestThreePartyCycleEndToEnd(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	alice := registerUser(t, base, "alice")
	bob := registerUser(t, base, "bobby")
	carol := registerUser(t, base, "carol")

	aliceOffer := createListing(t, base, alice, "OFFERED", "book")
	createListing(t, base, alice, "WANTED", "vinyl")
	bobOffer := createListing(t, base, bob, "OFFERED", "vinyl")
	createListing(t, base, bob, "WANTED", "game")
	carolOffer := createListing(t, base, carol, "OFFERED", "game")
	createListing(t, base, carol, "WANTED", "book")

	var found struct {
		Cycles []domainProposal.Cycle `json:"cycles"`
	}
	doJSON(t, http.MethodGet, base+"/v1/listings/"+aliceOffer.String()+"/cycles", nil, http.StatusOK, &found)
	if len(found.Cycles) == 0 {
		t.Fatal("expected at least one candidate cycle")
	}
	cycle := found.Cycles[0]
	if cycle.Length() != 3 {
		t.Fatalf("expected a 3-hop cycle, got %d hops", cycle.Length())
	}

	hops := make([]map[string]string, 0, len(cycle.Hops))
	for _, h := range cycle.Hops {
		hops = append(hops, map[string]string{
			"offered_id":  h.OfferedID.String(),
			"wanted_id":   h.WantedID.String(),
			"giver_id":    h.GiverID.String(),
			"receiver_id": h.ReceiverID.String(),
		})
	}
	var created domainProposal.Proposal
	doJSON(t, http.MethodPost, base+"/v1/proposals", map[string]interface{}{"hops": hops}, http.StatusCreated, &created)
	if created.State != domainProposal.StatePending {
		t.Fatalf("expected pending proposal, got %s", created.State)
	}

	var last domainProposal.Proposal
	for _, member := range []uuid.UUID{alice, bob, carol} {
		doJSON(t, http.MethodPost, base+"/v1/proposals/"+created.ProposalID.String()+"/respond", map[string]interface{}{
			"member_id": member.String(),
			"accept":    true,
		}, http.StatusOK, &last)
	}
	if last.State != domainProposal.StateExecuted {
		t.Fatalf("expected executed proposal, got %s", last.State)
	}

	for _, id := range []uuid.UUID{aliceOffer, bobOffer, carolOffer} {
		if status := getListingStatus(t, base, id); status != string(domainListing.StatusCompleted) {
			t.Fatalf("listing %s: status %s, want COMPLETED", id, status)
		}
	}

	var verdict struct {
		Valid bool `json:"valid"`
	}
	doJSON(t, http.MethodGet, base+"/v1/trades/ledger/verify", nil, http.StatusOK, &verdict)
	if !verdict.Valid {
		t.Fatal("ledger verification failed after execution")
	}

	var history struct {
		Trades []json.RawMessage `json:"trades"`
	}
	doJSON(t, http.MethodGet, base+"/v1/users/"+alice.String()+"/trades", nil, http.StatusOK, &history)
	if len(history.Trades) != 1 {
		t.Fatalf("expected 1 trade in history, got %d", len(history.Trades))
	}
}

// A declined proposal closes immediately and leaves every listing active
// and matchable.
func TestDeclineReleasesCycle(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	alice := registerUser(t, base, "alice")
	bob := registerUser(t, base, "bobby")

	aliceOffer := createListing(t, base, alice, "OFFERED", "book")
	createListing(t, base, alice, "WANTED", "vinyl")
	bobOffer := createListing(t, base, bob, "OFFERED", "vinyl")
	createListing(t, base, bob, "WANTED", "book")

	var found struct {
		Cycles []domainProposal.Cycle `json:"cycles"`
	}
	doJSON(t, http.MethodGet, base+"/v1/listings/"+aliceOffer.String()+"/cycles", nil, http.StatusOK, &found)
	if len(found.Cycles) == 0 {
		t.Fatal("expected a 2-party cycle")
	}

	hops := make([]map[string]string, 0, 2)
	for _, h := range found.Cycles[0].Hops {
		hops = append(hops, map[string]string{
			"offered_id":  h.OfferedID.String(),
			"wanted_id":   h.WantedID.String(),
			"giver_id":    h.GiverID.String(),
			"receiver_id": h.ReceiverID.String(),
		})
	}
	var created domainProposal.Proposal
	doJSON(t, http.MethodPost, base+"/v1/proposals", map[string]interface{}{"hops": hops}, http.StatusCreated, &created)

	var after domainProposal.Proposal
	doJSON(t, http.MethodPost, base+"/v1/proposals/"+created.ProposalID.String()+"/respond", map[string]interface{}{
		"member_id": bob.String(),
		"accept":    false,
	}, http.StatusOK, &after)
	if after.State != domainProposal.StateRejected {
		t.Fatalf("expected rejected proposal, got %s", after.State)
	}

	for _, id := range []uuid.UUID{aliceOffer, bobOffer} {
		if status := getListingStatus(t, base, id); status != string(domainListing.StatusActive) {
			t.Fatalf("listing %s: status %s, want ACTIVE", id, status)
		}
	}
}

// Withdrawing the same listing twice succeeds both times; the second call
// is a no-op.
func TestWithdrawIsIdempotent(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	alice := registerUser(t, base, "alice")
	offer := createListing(t, base, alice, "OFFERED", "book")

	body := map[string]interface{}{"owner_id": alice.String()}
	for i := 0; i < 2; i++ {
		var l listingResponse
		doJSON(t, http.MethodPost, base+"/v1/listings/"+offer.String()+"/withdraw", body, http.StatusOK, &l)
		if l.Status != string(domainListing.StatusWithdrawn) {
			t.Fatalf("withdraw %d: status %s, want WITHDRAWN", i+1, l.Status)
		}
	}

	var found struct {
		Cycles []domainProposal.Cycle `json:"cycles"`
	}
	doJSON(t, http.MethodGet, base+"/v1/listings/"+offer.String()+"/cycles", nil, http.StatusOK, &found)
	if len(found.Cycles) != 0 {
		t.Fatalf("withdrawn listing still yields %d cycles", len(found.Cycles))
	}
}

// A withdrawn listing kills the open proposals that reference it.
func TestWithdrawRejectsOpenProposals(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	alice := registerUser(t, base, "alice")
	bob := registerUser(t, base, "bobby")

	aliceOffer := createListing(t, base, alice, "OFFERED", "book")
	createListing(t, base, alice, "WANTED", "vinyl")
	bobOffer := createListing(t, base, bob, "OFFERED", "vinyl")
	createListing(t, base, bob, "WANTED", "book")

	var found struct {
		Cycles []domainProposal.Cycle `json:"cycles"`
	}
	doJSON(t, http.MethodGet, base+"/v1/listings/"+aliceOffer.String()+"/cycles", nil, http.StatusOK, &found)
	if len(found.Cycles) == 0 {
		t.Fatal("expected a 2-party cycle")
	}
	hops := make([]map[string]string, 0, 2)
	for _, h := range found.Cycles[0].Hops {
		hops = append(hops, map[string]string{
			"offered_id":  h.OfferedID.String(),
			"wanted_id":   h.WantedID.String(),
			"giver_id":    h.GiverID.String(),
			"receiver_id": h.ReceiverID.String(),
		})
	}
	var created domainProposal.Proposal
	doJSON(t, http.MethodPost, base+"/v1/proposals", map[string]interface{}{"hops": hops}, http.StatusCreated, &created)

	doJSON(t, http.MethodPost, base+"/v1/listings/"+bobOffer.String()+"/withdraw",
		map[string]interface{}{"owner_id": bob.String()}, http.StatusOK, nil)

	var after domainProposal.Proposal
	doJSON(t, http.MethodGet, base+"/v1/proposals/"+created.ProposalID.String(), nil, http.StatusOK, &after)
	if after.State != domainProposal.StateRejected {
		t.Fatalf("expected rejected proposal after withdrawal, got %s", after.State)
	}
}

// Two fully accepted proposals fight over one listing; exactly one of
// them executes.
func TestOverlappingProposalsSingleWinner(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	alice := registerUser(t, base, "alice")
	aliceOffer := createListing(t, base, alice, "OFFERED", "book")
	createListing(t, base, alice, "WANTED", "vinyl")

	rivals := make([]uuid.UUID, 0, 2)
	for i := 0; i < 2; i++ {
		rival := registerUser(t, base, fmt.Sprintf("rival%d", i))
		createListing(t, base, rival, "OFFERED", "vinyl")
		createListing(t, base, rival, "WANTED", "book")
		rivals = append(rivals, rival)
	}

	var found struct {
		Cycles []domainProposal.Cycle `json:"cycles"`
	}
	doJSON(t, http.MethodGet, base+"/v1/listings/"+aliceOffer.String()+"/cycles", nil, http.StatusOK, &found)
	if len(found.Cycles) < 2 {
		t.Fatalf("expected 2 rival cycles, got %d", len(found.Cycles))
	}

	// Both proposals must exist before either side accepts: creation
	// re-validates listings, and the winner completes them.
	proposals := make([]domainProposal.Proposal, 0, 2)
	for _, cycle := range found.Cycles[:2] {
		hops := make([]map[string]string, 0, len(cycle.Hops))
		for _, h := range cycle.Hops {
			hops = append(hops, map[string]string{
				"offered_id":  h.OfferedID.String(),
				"wanted_id":   h.WantedID.String(),
				"giver_id":    h.GiverID.String(),
				"receiver_id": h.ReceiverID.String(),
			})
		}
		var created domainProposal.Proposal
		doJSON(t, http.MethodPost, base+"/v1/proposals", map[string]interface{}{"hops": hops}, http.StatusCreated, &created)
		proposals = append(proposals, created)
	}

	states := map[domainProposal.State]int{}
	for _, created := range proposals {
		var last domainProposal.Proposal
		for _, member := range created.Cycle.Participants() {
			doJSON(t, http.MethodPost, base+"/v1/proposals/"+created.ProposalID.String()+"/respond", map[string]interface{}{
				"member_id": member.String(),
				"accept":    true,
			}, http.StatusOK, &last)
		}
		states[last.State]++
	}

	if states[domainProposal.StateExecuted] != 1 || states[domainProposal.StateFailed] != 1 {
		t.Fatalf("expected one executed and one failed proposal, got %v", states)
	}
	if status := getListingStatus(t, base, aliceOffer); status != string(domainListing.StatusCompleted) {
		t.Fatalf("contested listing: status %s, want COMPLETED", status)
	}

	used := 0
	for _, rival := range rivals {
		var listings struct {
			Listings []listingResponse `json:"listings"`
		}
		doJSON(t, http.MethodGet, base+"/v1/listings?owner_id="+rival.String(), nil, http.StatusOK, &listings)
		for _, l := range listings.Listings {
			if l.Status == string(domainListing.StatusCompleted) {
				used++
			}
		}
	}
	if used != 2 {
		t.Fatalf("expected exactly one rival's pair completed, got %d completed listings", used)
	}
}
