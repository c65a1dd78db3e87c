package authz

import (
	"strings"

	"schoolgate.org/internal/identity"
)

// Wildcard matches any role, resource or action in the matrix.
const Wildcard = "*"

// Actions used by the CRUD layer.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Matrix is a static role -> resource -> action allow-list. It is built once
// at process start and never mutated afterwards.
type Matrix map[identity.Role]map[string]map[string]struct{}

// Default returns the permission matrix the service ships with.
func Default() Matrix {
	return build(map[identity.Role]map[string][]string{
		identity.RoleAdmin: {
			Wildcard: {Wildcard},
		},
		identity.RoleTeacher: {
			"students":      {ActionRead},
			"parents":       {ActionRead},
			"classes":       {ActionRead},
			"subjects":      {ActionRead},
			"lessons":       {ActionRead, ActionCreate, ActionUpdate},
			"exams":         {ActionRead, ActionCreate, ActionUpdate, ActionDelete},
			"assignments":   {ActionRead, ActionCreate, ActionUpdate, ActionDelete},
			"results":       {ActionRead, ActionCreate, ActionUpdate},
			"attendance":    {ActionRead, ActionCreate, ActionUpdate},
			"announcements": {ActionRead, ActionCreate, ActionUpdate},
			"events":        {ActionRead},
			"preferences":   {ActionUpdate},
		},
		identity.RoleStudent: {
			"classes":       {ActionRead},
			"subjects":      {ActionRead},
			"lessons":       {ActionRead},
			"exams":         {ActionRead},
			"assignments":   {ActionRead},
			"results":       {ActionRead},
			"attendance":    {ActionRead},
			"fees":          {ActionRead},
			"announcements": {ActionRead},
			"events":        {ActionRead},
			"preferences":   {ActionUpdate},
		},
		identity.RoleParent: {
			"students":      {ActionRead},
			"classes":       {ActionRead},
			"lessons":       {ActionRead},
			"exams":         {ActionRead},
			"assignments":   {ActionRead},
			"results":       {ActionRead},
			"attendance":    {ActionRead},
			"fees":          {ActionRead},
			"announcements": {ActionRead},
			"events":        {ActionRead},
			"preferences":   {ActionUpdate},
		},
	})
}

func build(src map[identity.Role]map[string][]string) Matrix {
	m := make(Matrix, len(src))
	for role, resources := range src {
		entry := make(map[string]map[string]struct{}, len(resources))
		for resource, actions := range resources {
			set := make(map[string]struct{}, len(actions))
			for _, action := range actions {
				set[action] = struct{}{}
			}
			entry[resource] = set
		}
		m[role] = entry
	}
	return m
}

// Allows reports whether role may perform action on resource. It is total:
// unknown roles, resources and actions simply deny.
func (m Matrix) Allows(role identity.Role, resource, action string) bool {
	resources, ok := m[role]
	if !ok {
		return false
	}
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return false
	}
	if actions, ok := resources[Wildcard]; ok {
		if _, ok := actions[Wildcard]; ok {
			return true
		}
		if _, ok := actions[action]; ok {
			return true
		}
	}
	actions, ok := resources[resource]
	if !ok {
		return false
	}
	if _, ok := actions[Wildcard]; ok {
		return true
	}
	_, ok = actions[action]
	return ok
}
