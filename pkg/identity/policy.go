package identity

// policyFor returns the permissions a given agent_type is allowed to hold.
// requested permissions outside this set are dropped silently, per spec.
func policyFor(agentType AgentType) map[Permission]bool {
	base := map[Permission]bool{
		PermissionRead:  true,
		PermissionWrite: true,
		PermissionDebug: true,
	}
	if agentType == AgentTypeAdmin {
		base[PermissionAdmin] = true
	}
	return base
}

// intersectPermissions keeps only the requested permissions allowed by
// policy, silently dropping the rest and de-duplicating.
func intersectPermissions(agentType AgentType, requested []Permission) []Permission {
	allowed := policyFor(agentType)
	seen := map[Permission]bool{}
	var out []Permission
	for _, p := range requested {
		if !validPermission(p) || !allowed[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
