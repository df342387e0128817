package auth

// DecisionKind enumerates the outcomes of a guard evaluation.
type DecisionKind int

const (
	// DecisionChecking means persisted session state is still loading; render a neutral placeholder.
	DecisionChecking DecisionKind = iota
	// DecisionAllow means the view may render.
	DecisionAllow
	// DecisionRedirect means the caller must navigate to Decision.Path instead.
	DecisionRedirect
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionChecking:
		return "checking"
	case DecisionAllow:
		return "allow"
	case DecisionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the transient result of a guard evaluation. It is recomputed on every render.
type Decision struct {
	Kind DecisionKind
	Path string

	// ResolvedRole is set on Allow when the guard picked the identity's only role
	// because no active role was selected yet.
	ResolvedRole    Role
	HasResolvedRole bool
}

// Checking returns a Checking decision.
func Checking() Decision { return Decision{Kind: DecisionChecking} }

// Allow returns an Allow decision.
func Allow() Decision { return Decision{Kind: DecisionAllow} }

// RedirectTo returns a Redirect decision to path.
func RedirectTo(path string) Decision { return Decision{Kind: DecisionRedirect, Path: path} }

// Routes names the navigation targets the guard redirects to.
type Routes struct {
	SignIn        string
	Home          string
	RoleSelection string
	// Landing maps each role to its landing view. Missing roles fall back to Home.
	Landing map[Role]string
}

// LandingFor returns the landing path for r.
func (rt Routes) LandingFor(r Role) string {
	if p, ok := rt.Landing[r]; ok && p != "" {
		return p
	}
	return rt.Home
}

// GuardInput is everything a guard evaluation looks at.
type GuardInput struct {
	Hydrated      bool
	Authenticated bool
	Identity      *Identity

	ActiveRole    Role
	HasActiveRole bool

	AllowedRoles         []Role
	AllowUnauthenticated bool
}

// Decide gates a protected view. It is deterministic and has no side effects.
func Decide(in GuardInput, routes Routes) Decision {
	if !in.Hydrated {
		return Checking()
	}

	if !in.Authenticated {
		if in.AllowUnauthenticated {
			return Allow()
		}
		return RedirectTo(routes.SignIn)
	}

	if len(in.AllowedRoles) == 0 {
		return Allow()
	}

	if in.HasActiveRole {
		for _, r := range in.AllowedRoles {
			if r == in.ActiveRole {
				return Allow()
			}
		}
		return RedirectTo(routes.Home)
	}

	var authorized RoleSet
	if in.Identity != nil {
		authorized = in.Identity.Roles
	}
	candidates := authorized.Intersect(in.AllowedRoles)
	if candidates.Len() == 0 {
		return RedirectTo(routes.Home)
	}
	if authorized.Len() > 1 {
		return RedirectTo(routes.RoleSelection)
	}

	d := Allow()
	d.ResolvedRole, d.HasResolvedRole = candidates.Only()
	return d
}

// DecideRedirectIfAuthenticated gates views meant for signed-out users, such as the
// sign-in page, sending already authenticated users to where they belong.
func DecideRedirectIfAuthenticated(in GuardInput, routes Routes) Decision {
	if !in.Hydrated {
		return Checking()
	}
	if !in.Authenticated {
		return Allow()
	}
	if in.HasActiveRole {
		return RedirectTo(routes.LandingFor(in.ActiveRole))
	}

	var authorized RoleSet
	if in.Identity != nil {
		authorized = in.Identity.Roles
	}
	if only, ok := authorized.Only(); ok {
		d := RedirectTo(routes.LandingFor(only))
		d.ResolvedRole, d.HasResolvedRole = only, true
		return d
	}
	if authorized.Len() > 1 {
		return RedirectTo(routes.RoleSelection)
	}
	return Allow()
}
