package repo

// BranchList is one entry of ListBranches' result.
type BranchList struct {
	Name      string
	Head      string
	HasHead   bool
	IsCurrent bool
}

// CreateBranch creates a branch pointing at the current branch's head.
// Fails BranchExists if the name is already taken.
func (r *Repo) CreateBranch(name string) error {
	branchName, err := r.catalog.GetHead()
	if err != nil {
		return err
	}
	cur, err := r.catalog.GetBranch(branchName)
	if err != nil {
		return err
	}
	return r.catalog.CreateBranch(name, cur.Head, cur.HasHead)
}

// ListBranches returns every branch, marking which is current.
func (r *Repo) ListBranches() ([]BranchList, error) {
	head, err := r.catalog.GetHead()
	if err != nil {
		return nil, err
	}
	branches, err := r.catalog.ListBranches()
	if err != nil {
		return nil, err
	}
	out := make([]BranchList, len(branches))
	for i, b := range branches {
		headStr := ""
		if b.HasHead {
			headStr = b.Head.String()
		}
		out[i] = BranchList{Name: b.Name, Head: headStr, HasHead: b.HasHead, IsCurrent: b.Name == head}
	}
	return out, nil
}

// DeleteBranch removes a branch, refusing to delete the current one.
func (r *Repo) DeleteBranch(name string) error {
	return r.catalog.DeleteBranch(name)
}

// Checkout sets HEAD to name. Fails UnknownBranch. The working tree is not
// modified (non-goal, §4.E).
func (r *Repo) Checkout(name string) error {
	return r.catalog.SetHead(name)
}
