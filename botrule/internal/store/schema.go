package store

// Schema contains the DDL for the rule table. One row per extraction rule;
// optional columns are NULL when the rule does not set them.
const Schema = `
CREATE TABLE IF NOT EXISTS rule_for_web (
    id                 TEXT PRIMARY KEY,
    host               TEXT NOT NULL,
    rule_name          TEXT NOT NULL,
    selector           TEXT NOT NULL,
    remove_selector    TEXT,
    get_content_action TEXT,
    get_url_action     TEXT,
    type               TEXT,
    check_setting      TEXT,
    created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rule_for_web_host ON rule_for_web(host);
`
