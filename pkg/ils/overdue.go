package ils

// OverdueLoan is one overdue loan with enough context to notify the
// patron.
type OverdueLoan struct {
	PatronID   string
	PatronName string
	Email      string
	Title      string
	Due        string
}

// OverdueLister is implemented by backends that can enumerate overdue
// loans for the notice sweep. Backends without it are simply skipped.
type OverdueLister interface {
	OverdueLoans() []OverdueLoan
}

func (m *Memory) OverdueLoans() []OverdueLoan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now().Format(sipDateLayout)
	var out []OverdueLoan
	for _, it := range m.items {
		if it.chargedTo == "" || it.due == "" || it.due >= now {
			continue
		}
		loan := OverdueLoan{PatronID: it.chargedTo, Title: it.title, Due: it.due}
		if p := m.patrons[it.chargedTo]; p != nil {
			loan.PatronName = p.name
			loan.Email = p.email
		}
		out = append(out, loan)
	}
	return out
}

func (s *SQLBackend) OverdueLoans() []OverdueLoan {
	rows, err := s.query(`SELECT l.patron_id, p.name, p.email, i.title, l.due
		FROM loans l
		JOIN patrons p ON p.id = l.patron_id
		JOIN items i ON i.id = l.item_id
		WHERE l.due < ?`, s.stamp())
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []OverdueLoan
	for rows.Next() {
		var o OverdueLoan
		if rows.Scan(&o.PatronID, &o.PatronName, &o.Email, &o.Title, &o.Due) == nil {
			out = append(out, o)
		}
	}
	return out
}
