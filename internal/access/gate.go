// Package access 决定用户能否查看或编辑学习资料。
//
// 所有判断都是纯函数：调用方负责加载资料所在房间（讲师 ID）以及用户在该房间的报名类型。
package access

import "innovacollab/internal/model"

// Subject 是被判定的资料，InstructorID 为资料所在房间的讲师。
type Subject struct {
	AuthorID     uint
	InstructorID uint
	AccessLevel  string
}

// SubjectOf 由资料与房间构造判定对象。
func SubjectOf(m *model.StudyMaterial, room *model.Room) Subject {
	s := Subject{AuthorID: m.AuthorID, AccessLevel: m.AccessLevel}
	if room != nil {
		s.InstructorID = room.InstructorID
	}
	return s
}

// CanView 作者与讲师总是可见；匿名用户只能看免费资料；
// 高级资料要求 premium 报名。enrollmentType 为空表示未报名。
func CanView(user *model.User, s Subject, enrollmentType string) bool {
	if user == nil {
		return s.AccessLevel == model.AccessFree
	}
	if user.ID == s.AuthorID || user.ID == s.InstructorID {
		return true
	}
	switch s.AccessLevel {
	case model.AccessFree:
		return true
	case model.AccessPremium:
		return enrollmentType == model.EnrollmentPremium
	default:
		return false
	}
}

// CanEdit 只有作者或房间讲师可以编辑、删除。
func CanEdit(user *model.User, s Subject) bool {
	if user == nil {
		return false
	}
	return user.ID == s.AuthorID || user.ID == s.InstructorID
}

// IsInstructor 判断用户是否为房间讲师。
func IsInstructor(user *model.User, room *model.Room) bool {
	return user != nil && room != nil && user.ID == room.InstructorID
}
