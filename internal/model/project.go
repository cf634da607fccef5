package model

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	ContractRef string `json:"contract_ref"`
	ClientID    string `json:"client_id"`
	Ctime       int64  `json:"ctime"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	MemberID  string `json:"member_id"`
	Ctime     int64  `json:"ctime"`
}
