package pg

// Схема хранилища определений. Порядок важен: FK ссылаются на предыдущие таблицы.
// Схемы эндпоинтов хранятся как json (не jsonb), чтобы текст возвращался без перестановки ключей.
var migrations = []struct {
	Name string
	SQL  string
}{
	{"001_projects", `create table if not exists projects (
  id            text primary key,
  name          text not null,
  namespace     text not null,
  description   text not null default '',
  status        text not null,
  status_detail text not null default '',
  created_at    timestamp with time zone not null,
  updated_at    timestamp with time zone not null,
  constraint projects_namespace_key unique (namespace)
)`},
	{"002_entities", `create table if not exists entities (
  id          text primary key,
  project_id  text not null references projects(id) on delete cascade,
  name        text not null,
  table_name  text not null,
  description text not null default '',
  fields      jsonb not null,
  created_at  timestamp with time zone not null,
  updated_at  timestamp with time zone not null,
  constraint entities_project_name_key unique (project_id, name)
)`},
	{"003_endpoints", `create table if not exists endpoints (
  id              text primary key,
  entity_id       text not null references entities(id) on delete cascade,
  name            text not null,
  method          text not null,
  path            text not null,
  description     text not null default '',
  require_auth    boolean not null default true,
  request_schema  json not null default '{}',
  response_schema json not null default '{}',
  created_at      timestamp with time zone not null,
  updated_at      timestamp with time zone not null
)`},
	{"004_indexes", `create index if not exists entities_project_idx on entities(project_id);
create index if not exists endpoints_entity_idx on endpoints(entity_id)`},
}

const (
	uqNamespace  = "projects_namespace_key"
	uqEntityName = "entities_project_name_key"
)
