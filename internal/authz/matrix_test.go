package authz

import (
	"testing"

	"schoolgate.org/internal/identity"
)

func TestAdminWildcardAllowsEverything(t *testing.T) {
	m := Default()
	cases := [][2]string{
		{"students", "delete"},
		{"fees", "create"},
		{"nonexistent", "whatever"},
	}
	for _, c := range cases {
		if !m.Allows(identity.RoleAdmin, c[0], c[1]) {
			t.Fatalf("admin denied %s/%s", c[0], c[1])
		}
	}
}

func TestStudentFeesDeleteDenied(t *testing.T) {
	m := Default()
	if m.Allows(identity.RoleStudent, "fees", "delete") {
		t.Fatal("student must not delete fees")
	}
	if !m.Allows(identity.RoleStudent, "fees", "read") {
		t.Fatal("student should read fees")
	}
}

func TestTeacherStudentAccess(t *testing.T) {
	m := Default()
	if !m.Allows(identity.RoleTeacher, "students", "read") {
		t.Fatal("teacher should read students")
	}
	if m.Allows(identity.RoleTeacher, "students", "delete") {
		t.Fatal("teacher must not delete students")
	}
	if m.Allows(identity.RoleTeacher, "fees", "read") {
		t.Fatal("teacher has no fees access")
	}
}

func TestAllowsIsTotal(t *testing.T) {
	m := Default()
	if m.Allows(identity.Role("janitor"), "students", "read") {
		t.Fatal("unknown role must deny")
	}
	if m.Allows(identity.RoleParent, "", "read") {
		t.Fatal("empty resource must deny")
	}
	if m.Allows(identity.RoleParent, "students", "") {
		t.Fatal("empty action must deny")
	}
	if m.Allows(identity.RoleParent, "unknown-resource", "read") {
		t.Fatal("unknown resource must deny")
	}
}

func TestAllowsNormalizesCase(t *testing.T) {
	m := Default()
	if !m.Allows(identity.RoleTeacher, " Students ", "READ") {
		t.Fatal("resource/action matching should be case-insensitive")
	}
}
