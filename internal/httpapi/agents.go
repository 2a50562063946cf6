// ABOUTME: POST/DELETE/GET /v1/agents — registration, unregistration, and exact/semantic discovery.

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/registry"
)

// registerAgentRequest is the JSON body for POST /v1/agents. PublicKey is
// the base64-encoded SSH wire-format public key; Proof is a base64
// signature over the resulting DID proving possession of the matching
// private key, since a registering client never hands its signer to the
// fabric.
type registerAgentRequest struct {
	AgentID          string                `json:"agentId"`
	PublicKey        string                `json:"publicKey"`
	Proof            string                `json:"proof"`
	AgentType        string                `json:"agentType"`
	InteractionModes []string              `json:"interactionModes"`
	Capabilities     []capindex.Capability `json:"capabilities"`
	OrganizationID   string                `json:"organizationId,omitempty"`
	PaymentAddress   string                `json:"paymentAddress,omitempty"`
	OwnerID          string                `json:"ownerId,omitempty"`
	Custom           map[string]any        `json:"custom,omitempty"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	id, err := verifiedIdentityFromProof(req.PublicKey, req.Proof)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	modes := make([]registry.InteractionMode, 0, len(req.InteractionModes))
	for _, m := range req.InteractionModes {
		modes = append(modes, registry.InteractionMode(m))
	}

	reg := registry.AgentRegistration{
		AgentMetadata: registry.AgentMetadata{
			AgentID:          req.AgentID,
			AgentType:        registry.AgentType(req.AgentType),
			InteractionModes: modes,
			Capabilities:     req.Capabilities,
			OrganizationID:   req.OrganizationID,
			PaymentAddress:   req.PaymentAddress,
			Custom:           req.Custom,
		},
		Identity: id,
		OwnerID:  req.OwnerID,
	}

	if err := s.fabric.Hub.RegisterAgent(r.Context(), reg); err != nil {
		writeError(w, statusForRegisterError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"agentId": req.AgentID, "did": id.DID})
}

// verifiedIdentityFromProof parses the base64 SSH wire-format public key
// and validates that proof is a signature over the derived DID, the
// HTTP-facing analogue of the already-verified identity an in-process
// caller constructs via identity.CreateKeyBased.
func verifiedIdentityFromProof(publicKeyB64, proofB64 string) (*identity.Identity, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, errInvalidField("publicKey")
	}
	pub, err := ssh.ParsePublicKey(keyBytes)
	if err != nil {
		return nil, errInvalidField("publicKey")
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return nil, errInvalidField("proof")
	}

	did := identity.DidFromPublicKey(pub)
	peer := &identity.Identity{DID: did, PublicKey: pub}
	if !identity.Verify(peer, []byte(did), proof) {
		return nil, errInvalidField("proof")
	}
	peer.Verified = true
	return peer, nil
}

func errInvalidField(field string) error {
	return &fieldError{field}
}

type fieldError struct{ field string }

func (e *fieldError) Error() string { return "invalid " + e.field }

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := s.fabric.Hub.UnregisterAgent(r.Context(), agentID); err != nil {
		writeError(w, statusForRegisterError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// agentResponse is the discovery-facing projection of an AgentRegistration.
// PaymentAddress is carried through verbatim — the fabric stores it opaquely
// and never interprets it, but it is part of what a discovery caller needs
// to act on a match.
type agentResponse struct {
	AgentID          string                `json:"agentId"`
	AgentType        string                `json:"agentType"`
	InteractionModes []string              `json:"interactionModes"`
	Capabilities     []capindex.Capability `json:"capabilities"`
	OrganizationID   string                `json:"organizationId,omitempty"`
	PaymentAddress   string                `json:"paymentAddress,omitempty"`
	Score            float64               `json:"score,omitempty"`
}

func toAgentResponse(reg registry.AgentRegistration) agentResponse {
	modes := make([]string, 0, len(reg.InteractionModes))
	for _, m := range reg.InteractionModes {
		modes = append(modes, string(m))
	}
	return agentResponse{
		AgentID:          reg.AgentID,
		AgentType:        string(reg.AgentType),
		InteractionModes: modes,
		Capabilities:     reg.Capabilities,
		OrganizationID:   reg.OrganizationID,
		PaymentAddress:   reg.PaymentAddress,
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if capName := q.Get("capability"); capName != "" {
		hits := s.fabric.Hub.FindByCapability(capName)
		out := make([]agentResponse, 0, len(hits))
		for _, h := range hits {
			out = append(out, toAgentResponse(h))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	if query := q.Get("q"); query != "" {
		opts := registry.DiscoveryOptions{
			MinScore:        s.fabric.Config.Capability.MinScore,
			ExcludeInactive: true,
		}
		if limitStr := q.Get("limit"); limitStr != "" {
			if n, err := strconv.Atoi(limitStr); err == nil {
				opts.Limit = n
			}
		}
		if minScoreStr := q.Get("minScore"); minScoreStr != "" {
			if v, err := strconv.ParseFloat(minScoreStr, 64); err == nil {
				opts.MinScore = v
			}
		}
		// requesterId identifies the agent performing discovery, so it can
		// be excluded from its own results and skipped if it recently
		// timed out waiting on that candidate via SendAndWait.
		if requesterID := q.Get("requesterId"); requesterID != "" {
			opts.ExcludeAgentID = requesterID
			opts.ExcludeInCooldownWith = func(candidateAgentID string) bool {
				return s.fabric.Hub.InCooldownWith(requesterID, candidateAgentID)
			}
		}
		hits, err := s.fabric.Hub.FindByCapabilityDescription(r.Context(), query, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]agentResponse, 0, len(hits))
		for _, h := range hits {
			resp := toAgentResponse(h.Registration)
			resp.Score = h.Score
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	if org := q.Get("organizationId"); org != "" {
		hits := s.fabric.Hub.FindByOrganization(org)
		out := make([]agentResponse, 0, len(hits))
		for _, h := range hits {
			out = append(out, toAgentResponse(h))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	all := s.fabric.Hub.ListAgents()
	out := make([]agentResponse, 0, len(all))
	for _, h := range all {
		out = append(out, toAgentResponse(h))
	}
	writeJSON(w, http.StatusOK, out)
}
