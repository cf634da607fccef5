package model

import "strings"

type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
	RoleConsultant Role = "consultant"
	RoleTeamMember Role = "team_member"
)

// Partition is the account table a role lives in.
type Partition int

const (
	PartitionClient Partition = iota + 1
	PartitionStaff
	PartitionTeam
)

// Partitions lists every partition in lookup order.
var Partitions = []Partition{PartitionClient, PartitionStaff, PartitionTeam}

// ParseRole accepts the role spellings used by the web client.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, true
	case "contractor":
		return RoleContractor, true
	case "consultant":
		return RoleConsultant, true
	case "team_member", "team-member", "teammember", "team member", "team":
		return RoleTeamMember, true
	}
	return "", false
}

func (r Role) Partition() Partition {
	switch r {
	case RoleClient:
		return PartitionClient
	case RoleContractor, RoleConsultant:
		return PartitionStaff
	case RoleTeamMember:
		return PartitionTeam
	}
	return 0
}

func (p Partition) String() string {
	switch p {
	case PartitionClient:
		return "client"
	case PartitionStaff:
		return "staff"
	case PartitionTeam:
		return "team"
	}
	return "unknown"
}

// DefaultRole is used for accounts found without an explicit role.
func (p Partition) DefaultRole() Role {
	switch p {
	case PartitionClient:
		return RoleClient
	case PartitionTeam:
		return RoleTeamMember
	}
	return RoleContractor
}
