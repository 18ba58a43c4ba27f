package catalog

// SQLite allows any number of NULLs in a unique index, so books without an
// ISBN never collide. The partial index on borrowing_records keeps at most
// one open loan per book.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		profile_image TEXT NOT NULL DEFAULT '',
		is_admin INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL CHECK (length(trim(title)) > 0),
		author TEXT NOT NULL DEFAULT '',
		isbn TEXT,
		publisher TEXT NOT NULL DEFAULT '',
		published_date TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		page_count INTEGER NOT NULL DEFAULT 0 CHECK (page_count >= 0),
		categories TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		cover_image TEXT NOT NULL DEFAULT '',
		thumbnail_image TEXT NOT NULL DEFAULT '',
		external_id TEXT,
		rating REAL,
		status TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'borrowed')),
		owner_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_books_isbn ON books(isbn) WHERE isbn IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_books_title ON books(title)`,
	`CREATE INDEX IF NOT EXISTS idx_books_author ON books(author)`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		borrowed_at TIMESTAMP NOT NULL,
		due_at TIMESTAMP NOT NULL,
		returned_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'borrowed' CHECK (status IN ('borrowed', 'returned'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowing_open ON borrowing_records(book_id) WHERE status = 'borrowed'`,
	`CREATE INDEX IF NOT EXISTS idx_borrowing_user ON borrowing_records(user_id, status)`,
}

// MySQL has no partial indexes; open_book_id is NULL for closed loans, and
// NULLs never collide in a unique key.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL DEFAULT '',
		phone VARCHAR(64) NOT NULL DEFAULT '',
		address VARCHAR(512) NOT NULL DEFAULT '',
		profile_image VARCHAR(512) NOT NULL DEFAULT '',
		is_admin TINYINT(1) NOT NULL DEFAULT 0,
		enabled TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS books (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(512) NOT NULL,
		author VARCHAR(512) NOT NULL DEFAULT '',
		isbn VARCHAR(13) NULL,
		publisher VARCHAR(255) NOT NULL DEFAULT '',
		published_date VARCHAR(64) NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		page_count INT NOT NULL DEFAULT 0,
		categories VARCHAR(512) NOT NULL DEFAULT '',
		language VARCHAR(32) NOT NULL DEFAULT '',
		cover_image VARCHAR(1024) NOT NULL DEFAULT '',
		thumbnail_image VARCHAR(1024) NOT NULL DEFAULT '',
		external_id VARCHAR(128) NULL,
		rating DOUBLE NULL,
		status ENUM('available', 'borrowed') NOT NULL DEFAULT 'available',
		owner_id BIGINT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_books_isbn (isbn),
		KEY idx_books_title (title(191)),
		KEY idx_books_author (author(191)),
		CONSTRAINT fk_books_owner FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		book_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		borrowed_at DATETIME NOT NULL,
		due_at DATETIME NOT NULL,
		returned_at DATETIME NULL,
		status ENUM('borrowed', 'returned') NOT NULL DEFAULT 'borrowed',
		open_book_id BIGINT AS (CASE WHEN status = 'borrowed' THEN book_id END) STORED,
		UNIQUE KEY uq_borrowing_open (open_book_id),
		KEY idx_borrowing_user (user_id, status),
		CONSTRAINT fk_borrowing_book FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE,
		CONSTRAINT fk_borrowing_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
