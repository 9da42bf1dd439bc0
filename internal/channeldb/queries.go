package channeldb

// GetTuningSpaces returns the distinct bon_space values known for a driver,
// in ascending order, across all of its channel records, enabled or not.
func (db *DB) GetTuningSpaces(driverID int64) ([]uint32, error) {
	rows, err := db.sql.Query(`
		SELECT DISTINCT bon_space FROM channels WHERE driver_id=? ORDER BY bon_space`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		var space uint32
		if err := rows.Scan(&space); err != nil {
			return nil, err
		}
		out = append(out, space)
	}
	return out, rows.Err()
}
