package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    full_name VARCHAR(255),
    role VARCHAR(16) NOT NULL DEFAULT 'user',
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    last_login_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_users_status (status)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL UNIQUE,
    tier VARCHAR(16) NOT NULL DEFAULT 'free',
    total_tokens INT NOT NULL DEFAULT 0,
    available_tokens INT NOT NULL DEFAULT 0,
    consumed_tokens INT NOT NULL DEFAULT 0,
    lifetime_consumed BIGINT NOT NULL DEFAULT 0,
    period_start TIMESTAMP NOT NULL,
    period_end TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS token_transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    type VARCHAR(32) NOT NULL,
    amount INT NOT NULL,
    balance_before INT NOT NULL,
    balance_after INT NOT NULL,
    description VARCHAR(512),
    admin_id BIGINT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_token_transactions_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (admin_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS video_jobs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    prompt TEXT,
    model VARCHAR(64) NOT NULL,
    resolution VARCHAR(16) NOT NULL,
    aspect_ratio VARCHAR(16) NOT NULL,
    duration_seconds INT NOT NULL DEFAULT 0,
    generate_audio TINYINT(1) NOT NULL DEFAULT 0,
    input_image_url VARCHAR(1024),
    end_image_url VARCHAR(1024),
    reference_image_urls JSON,
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    status_message VARCHAR(512),
    error_message TEXT,
    progress_percentage INT NOT NULL DEFAULT 0,
    tokens_consumed INT NOT NULL DEFAULT 0,
    request_snapshot JSON,
    operation_name VARCHAR(255),
    provider_result_uri VARCHAR(1024),
    provider_response JSON,
    result_url VARCHAR(1024),
    started_at TIMESTAMP NULL,
    completed_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_video_jobs_user_status (user_id, status),
    KEY idx_video_jobs_status_started (status, started_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS video_job_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    video_job_id BIGINT NOT NULL,
    level VARCHAR(16) NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMP(3) DEFAULT CURRENT_TIMESTAMP(3),
    KEY idx_video_job_logs_job (video_job_id),
    FOREIGN KEY (video_job_id) REFERENCES video_jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS looks (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    title VARCHAR(255) NOT NULL,
    notes TEXT,
    image_url VARCHAR(1024),
    visibility VARCHAR(16) NOT NULL DEFAULT 'private',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_looks_visibility (visibility),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS look_shares (
    look_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    PRIMARY KEY (look_id, user_id),
    FOREIGN KEY (look_id) REFERENCES looks(id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS look_videos (
    look_id BIGINT NOT NULL,
    video_job_id BIGINT NOT NULL,
    is_default TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (look_id, video_job_id),
    FOREIGN KEY (look_id) REFERENCES looks(id) ON DELETE CASCADE,
    FOREIGN KEY (video_job_id) REFERENCES video_jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_settings (
    user_id BIGINT PRIMARY KEY,
    theme VARCHAR(16) NOT NULL DEFAULT 'system',
    tool_overrides JSON,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS default_settings (
    id TINYINT PRIMARY KEY,
    theme VARCHAR(16) NOT NULL DEFAULT 'light',
    tool_overrides JSON,
    updated_by BIGINT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
