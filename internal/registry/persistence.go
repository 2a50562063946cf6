// ABOUTME: Conversion between in-memory AgentRegistration and the durable store.AgentRecord shape,
// ABOUTME: plus Restore, which replays a Store's rows back into a fresh Registry at boot.

package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/store"
)

func toAgentRecord(reg AgentRegistration) store.AgentRecord {
	modes := make([]string, 0, len(reg.InteractionModes))
	for _, m := range reg.InteractionModes {
		modes = append(modes, string(m))
	}
	var custom []byte
	if len(reg.Custom) > 0 {
		custom, _ = json.Marshal(reg.Custom)
	}
	return store.AgentRecord{
		AgentID:          reg.AgentID,
		DID:              reg.Identity.DID,
		PublicKeyWire:    reg.Identity.PublicKey.Marshal(),
		AgentType:        string(reg.AgentType),
		InteractionModes: modes,
		OrganizationID:   reg.OrganizationID,
		PaymentAddress:   reg.PaymentAddress,
		OwnerID:          reg.OwnerID,
		CustomJSON:       custom,
		RegisteredAt:     reg.RegisteredAt,
	}
}

func toCapabilityRecords(reg AgentRegistration) []store.CapabilityRecord {
	out := make([]store.CapabilityRecord, 0, len(reg.Capabilities))
	for _, c := range reg.Capabilities {
		var input, output, meta []byte
		if c.InputSchema != nil {
			input, _ = json.Marshal(c.InputSchema)
		}
		if c.OutputSchema != nil {
			output, _ = json.Marshal(c.OutputSchema)
		}
		if len(c.Metadata) > 0 {
			meta, _ = json.Marshal(c.Metadata)
		}
		out = append(out, store.CapabilityRecord{
			AgentID:      reg.AgentID,
			Name:         c.Name,
			Description:  c.Description,
			InputSchema:  input,
			OutputSchema: output,
			MetadataJSON: meta,
		})
	}
	return out
}

// Restore replays every row in the Registry's configured Store back into
// memory. It rebuilds each agent's identity with PublicKey only — the
// private signer cannot survive a restart, so a restored agent's
// Identity.Verified stays true (the DID and key are still authentic) but
// Sign fails with it. Register returns ErrAlreadyRegistered for a restored
// agent id, so replacing the entry with one carrying a live signer takes an
// Unregister followed by a Register.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	recs, err := r.store.ListRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("registry: listing persisted registrations: %w", err)
	}

	for _, rec := range recs {
		pub, err := ssh.ParsePublicKey(rec.PublicKeyWire)
		if err != nil {
			r.logger.Error("restoring agent: bad public key", "agent_id", rec.AgentID, "error", err)
			continue
		}

		caps, err := r.store.ListCapabilities(ctx, rec.AgentID)
		if err != nil {
			r.logger.Error("restoring agent: listing capabilities failed", "agent_id", rec.AgentID, "error", err)
			continue
		}

		reg := AgentRegistration{
			AgentMetadata: AgentMetadata{
				AgentID:        rec.AgentID,
				AgentType:      AgentType(rec.AgentType),
				OrganizationID: rec.OrganizationID,
				PaymentAddress: rec.PaymentAddress,
			},
			Identity: &identity.Identity{
				DID:       rec.DID,
				PublicKey: pub,
				Verified:  true,
			},
			OwnerID:      rec.OwnerID,
			RegisteredAt: rec.RegisteredAt,
		}
		for _, m := range rec.InteractionModes {
			reg.InteractionModes = append(reg.InteractionModes, InteractionMode(m))
		}
		if len(rec.CustomJSON) > 0 {
			_ = json.Unmarshal(rec.CustomJSON, &reg.Custom)
		}
		for _, c := range caps {
			reg.Capabilities = append(reg.Capabilities, capabilityFromRecord(c))
		}

		if err := r.registerRestored(ctx, reg); err != nil {
			r.logger.Error("restoring agent failed", "agent_id", rec.AgentID, "error", err)
		}
	}

	r.logger.Info("restored agents from store", "count", len(recs))
	return nil
}

// registerRestored bypasses the store write-through (the rows are already
// there) but otherwise runs the same indexing path as Register.
func (r *Registry) registerRestored(ctx context.Context, reg AgentRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[reg.AgentID]; exists {
		return nil
	}

	cp := reg
	r.agents[cp.AgentID] = &cp
	for _, cap := range cp.Capabilities {
		if err := r.capIndex.Register(ctx, cp.AgentID, cap); err != nil {
			delete(r.agents, cp.AgentID)
			return err
		}
	}
	if cp.OrganizationID != "" {
		r.byOrg[cp.OrganizationID] = append(r.byOrg[cp.OrganizationID], cp.AgentID)
	}
	r.liveness[cp.AgentID] = &liveness{}
	return nil
}

func capabilityFromRecord(c store.CapabilityRecord) capindex.Capability {
	cap := capindex.Capability{Name: c.Name, Description: c.Description}
	if len(c.InputSchema) > 0 {
		_ = json.Unmarshal(c.InputSchema, &cap.InputSchema)
	}
	if len(c.OutputSchema) > 0 {
		_ = json.Unmarshal(c.OutputSchema, &cap.OutputSchema)
	}
	if len(c.MetadataJSON) > 0 {
		_ = json.Unmarshal(c.MetadataJSON, &cap.Metadata)
	}
	return cap
}
