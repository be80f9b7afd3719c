package domain

// AccessTier represents the trust level of a caller. It determines which
// knowledge sources a search may return.
//
// internal: admins and staff, unrestricted access to all sources.
// public:   unauthenticated visitors, public content only.
// portal:   authenticated non-admin users, public content plus their own
//           scoped data.
type AccessTier string

const (
	TierInternal AccessTier = "internal"
	TierPublic   AccessTier = "public"
	TierPortal   AccessTier = "portal"
)

// ConfidentialSources contains source tags visible to the internal tier only.
var ConfidentialSources = []string{"internal", "private", "admin"}

// PublicSources contains source tags safe for unauthenticated visitors.
var PublicSources = []string{"faq", "service", "public"}

// PortalSources contains source tags visible to authenticated portal users.
// Superset of PublicSources plus the caller-scoped tag.
var PortalSources = []string{"faq", "service", "public", "user_scoped"}

// SourceFilter is an allow-list of knowledge source tags. Tiers below
// internal always resolve to an explicit allow-list, never an exclude-list,
// so a newly added confidential source stays invisible by default.
type SourceFilter struct {
	AllowedSources []string
}

// ResolveSourceFilter maps an access tier to its source filter. A nil filter
// means unrestricted visibility and is returned for the internal tier only.
// Unrecognized tiers resolve to the public allow-list.
func ResolveSourceFilter(tier AccessTier) *SourceFilter {
	switch tier {
	case TierInternal:
		return nil
	case TierPortal:
		return &SourceFilter{AllowedSources: append([]string(nil), PortalSources...)}
	case TierPublic:
		return &SourceFilter{AllowedSources: append([]string(nil), PublicSources...)}
	default:
		return &SourceFilter{AllowedSources: append([]string(nil), PublicSources...)}
	}
}

// Allows reports whether the filter permits the given source tag.
// A nil filter allows everything.
func (f *SourceFilter) Allows(source string) bool {
	if f == nil {
		return true
	}
	for _, allowed := range f.AllowedSources {
		if allowed == source {
			return true
		}
	}
	return false
}

// TierForRole maps a caller's profile role to an access tier. Only the
// administrative role gets internal; every other authenticated caller is
// portal.
func TierForRole(role string) AccessTier {
	if role == RoleAdmin {
		return TierInternal
	}
	return TierPortal
}
