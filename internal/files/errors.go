package files

import "errors"

// Sentinel errors for file management. Callers match them with errors.Is;
// I/O failures from the folder additionally match storage.ErrIO.
var (
	// ErrAlreadyExists is returned when creating a file that is already present.
	//
	//	if errors.Is(err, files.ErrAlreadyExists) {
	//	    // working copy was forked earlier
	//	}
	ErrAlreadyExists = errors.New("file already exists")

	// ErrNoBase is returned when the folder has no base snapshot.
	ErrNoBase = errors.New("base snapshot not found")

	// ErrCorruptChangeFile is returned when a change file does not parse or
	// fails validation. The file is left in place.
	ErrCorruptChangeFile = errors.New("corrupt change file")

	// ErrCorruptLock is returned by ReadMergeLock when the lock document does
	// not parse.
	ErrCorruptLock = errors.New("corrupt merge lock")

	// ErrLockHeld is returned by CreateMergeLock while a fresh lock exists.
	ErrLockHeld = errors.New("merge lock held")

	// ErrInvalidAuthor is returned for author names that cannot be encoded
	// in a file name.
	ErrInvalidAuthor = errors.New("invalid author name")
)
