package entity

// Company is the tenant boundary; every other row belongs to exactly one company.
type Company struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Role is a privilege label such as "ceo", "admin" or "employee".
type Role struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Layer is a ranked level of a company's hierarchy; Number 0 is the lowest.
type Layer struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Number    int    `db:"number" json:"number"`
	CompanyID int64  `db:"company_id" json:"-"`
}

// Group is a named cohort of users within a company, orthogonal to Layer.
type Group struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	CompanyID int64  `db:"company_id" json:"-"`
}

// LayerView is a Layer annotated with its company.
type LayerView struct {
	Layer
	Company Company `db:"company" json:"company"`
}

// GroupView is a Group annotated with its company.
type GroupView struct {
	Group
	Company Company `db:"company" json:"company"`
}
