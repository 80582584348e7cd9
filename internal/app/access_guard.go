package app

import (
	"errors"

	"insightchat/internal/model"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrWrongOrganization = errors.New("project belongs to a different organization")
	ErrNotTeamMember     = errors.New("caller is not a member of the project team")
)

// Caller identifies the authenticated request origin as carried in the token.
type Caller struct {
	UserID         uint
	OrganizationID uint
	Role           string
}

// ProjectDirectory is the read-only slice of project/team storage the guard
// needs.
type ProjectDirectory interface {
	GetWithTeam(projectID uint) (*model.Project, error)
	IsTeamMember(teamID, userID uint) (bool, error)
}

// AccessGuard verifies that a caller may act on a project. It is read-only and
// must pass before any mutation in every entry point.
type AccessGuard struct {
	projects ProjectDirectory
}

func NewAccessGuard(projects ProjectDirectory) *AccessGuard {
	return &AccessGuard{projects: projects}
}

// Authorize returns the project when access is allowed. Superusers always
// pass; everyone else must belong to the caller's organization and be listed
// on the owning team.
func (g *AccessGuard) Authorize(caller Caller, projectID uint) (*model.Project, error) {
	project, err := g.projects.GetWithTeam(projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}
	if caller.Role == model.RoleSuperuser {
		return project, nil
	}
	if project.Team == nil || project.Team.OrganizationID != caller.OrganizationID {
		return nil, ErrWrongOrganization
	}
	member, err := g.projects.IsTeamMember(project.TeamID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotTeamMember
	}
	return project, nil
}
