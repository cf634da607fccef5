package model

// StagedSignup is the signup graph held in the token store until the
// client's email is verified.
type StagedSignup struct {
	Client      StagedClient   `json:"client" validate:"required"`
	Project     *StagedProject `json:"project,omitempty" validate:"omitempty"`
	Contractor  *StagedMember  `json:"contractor,omitempty" validate:"omitempty"`
	Consultant  *StagedMember  `json:"consultant,omitempty" validate:"omitempty"`
	TeamMembers []StagedMember `json:"team_members,omitempty" validate:"omitempty,dive"`
}

type StagedClient struct {
	CompanyName        string `json:"company_name" validate:"max=255"`
	RepresentativeName string `json:"representative_name" validate:"max=255"`
	Email              string `json:"email" validate:"required,email"`
	Phone              string `json:"phone" validate:"max=64"`
	Password           string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

type StagedProject struct {
	Name        string `json:"name" validate:"required,max=255"`
	Location    string `json:"location" validate:"max=255"`
	ContractRef string `json:"contract_ref" validate:"max=255"`
}

type StagedMember struct {
	Name    string `json:"name" validate:"max=255"`
	Company string `json:"company" validate:"max=255"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=64"`
}
