/*
Package backend implements the resource backend

A backend serves the resources of many apps from one Postgres database. Each app carries a
definition, which declares its resource types, their JSON schemas, roles, views, references
and hooks. The backend provides a RESTful-API for it under /apps/{appId}.

Definition

Definitions are written in JSON or YAML.

Example:
  resources:
    note:
      schema:
        type: object
        properties:
          title: {type: string}
          project: {type: integer}
          attachment: {type: string, format: binary}
        required: [title]
      roles: [$author, $team:manager]
      history: {data: true}
      expires: 30days
      references:
        project:
          resource: project
          delete:
            triggers: [{type: delete, cascade: update}]
      count:
        roles: [$public]
      create:
        hooks:
          notification: {to: [Editor], subscribe: all}
      views:
        public:
          roles: [$public]
          remap: {title: title, by: $author.name}
    project:
      schema: {type: object}

The routes for a resource type "note" of app 7 are

  GET    /apps/7/resources/note                 query
  GET    /apps/7/resources/note/$count          count
  POST   /apps/7/resources/note                 create, one object or an array
  PUT    /apps/7/resources/note                 update many, every item needs an id
  DELETE /apps/7/resources/note                 delete many, a JSON array of ids or ?ids=1,2
  GET    /apps/7/resources/note/{id}            get
  PUT    /apps/7/resources/note/{id}            update
  PATCH  /apps/7/resources/note/{id}            merge the top-level properties
  DELETE /apps/7/resources/note/{id}            delete
  GET    /apps/7/resources/note/{id}/history    versions, newest first
  GET, POST, DELETE .../subscriptions           subscriptions on the type or on one resource

Assets are served with GET /apps/{appId}/assets/{assetId}, usage per type with
GET /apps/{appId}/statistics.

Roles

A role list applies to an action if the action defines one, otherwise the resource type's
list applies, otherwise $member for apps with security and $public for apps without. The
roles are

  $public          everybody, including anonymous callers
  $member          every member of the app
  $none            nobody
  $author          the author of a resource
  $team:member     members of a team the author belongs to
  $team:manager    managers of a team the author belongs to
  <AppRole>        members with this app role

The roles of a list are combined. A caller passes if any of them grants access. Roles which
depend on the resource, like $author, restrict the rows a caller sees instead of rejecting
the request, so a resource hidden from the caller is reported as not found.

Members of the app's organization who may manage apps bypass all role checks.

Query

Queries understand a subset of OData:

  $filter   comparisons with eq, ne, gt, ge, lt and le, combined with and, or, not
            and parentheses. Functions contains, startswith and endswith.
  $orderby  comma separated fields, each optionally followed by asc or desc
  $select   comma separated top-level properties
  $top      maximum number of resources
  $skip     number of resources to skip
  $team     member or manager, restrict to resources of the caller's teams

Fields are property paths like "address/city" or one of id, $created, $updated,
$author/id, $editor/id and $expires. The total number of matches is returned in the
X-Total-Count header.

Validation and assets

Payloads are validated against the type's schema. Properties declared as references must
name an existing resource of the referenced type. Properties with format "binary" hold
assets. Uploads are sent as multipart/form-data, the payload in the form field "resource"
and the files in the form field "assets". A binary property names a file by its index in
"assets" and is replaced with the id of the new asset. Every file must be named exactly
once. A CSV body creates one resource per row.

Validation errors are reported with status 400 and a list of all failures.

References

When a resource is deleted, every resource referencing it is handled according to the
delete trigger of the reference: without a trigger the deletion is refused, cascade
"update" sets the reference to null and cascade "delete" deletes the referencing resource
as well, recursively.
A deletion either completes with all its cascades or not at all.

If-None-Match and Etag

All GET requests are served with Etag and obey the If-None-Match request. A request with a
matching If-None-Match header is answered with 304 Not Modified and no body.

Demo mode

Resources created in an app in demo mode are ephemeral. The first resource of each type
created in demo mode is also stored as a seed, which survives the cleanup of ephemeral
resources but never shows up in queries.
*/
package backend
