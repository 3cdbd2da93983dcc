package engine

// Stepper drives one native online-backup object of the active driver.
// Methods must be called with the driver connection held (inside
// sql.Conn.Raw), since the object borrows it.
type Stepper interface {
	// Step copies up to n pages; n < 0 copies everything left.
	Step(n int) (done bool, err error)
	// Progress reports the driver's own counters when it exposes them.
	Progress() (remaining, pageCount int, ok bool)
	// Finish releases the backup object and the connection it opened.
	Finish() error
}

// NewBackup starts copying the database behind driverConn into dstPath.
func NewBackup(driverConn any, dstPath string) (Stepper, error) {
	s, err := newStepper(driverConn, dstPath, false)
	if err != nil {
		return nil, Classify("backup_init", err)
	}
	return s, nil
}

// NewRestore starts copying srcPath over the database behind driverConn.
func NewRestore(driverConn any, srcPath string) (Stepper, error) {
	s, err := newStepper(driverConn, srcPath, true)
	if err != nil {
		return nil, Classify("restore_init", err)
	}
	return s, nil
}
