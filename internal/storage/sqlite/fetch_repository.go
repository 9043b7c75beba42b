package sqlite

import "database/sql"

// FetchRepository is the SQLite ledger with both read and write sides.
type FetchRepository struct {
	*FetchReadRepository
	*FetchWriteRepository
}

func NewFetchRepository(dbConn *sql.DB) *FetchRepository {
	return &FetchRepository{
		FetchReadRepository:  NewFetchReadRepository(dbConn),
		FetchWriteRepository: NewFetchWriteRepository(dbConn),
	}
}
