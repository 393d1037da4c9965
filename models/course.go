package models

import (
	"strconv"
	"strings"
)

// Sub-topic content states other than ready. Content in these states is a
// note for readers and is never indexed.
const (
	ContentStatusFailed   = "failed"
	ContentStatusRejected = "rejected"
)

// SubTopic is a single lesson inside a weekly module.
type SubTopic struct {
	Title         string `json:"title" validate:"required"`
	Content       string `json:"content"`
	ContentStatus string `json:"content_status,omitempty"`
}

// Indexable reports whether the sub-topic holds real lesson content.
func (s SubTopic) Indexable() bool {
	return s.ContentStatus == "" && strings.TrimSpace(s.Content) != ""
}

// Module is one week of a course.
type Module struct {
	Week      int        `json:"week" validate:"gte=1"`
	Title     string     `json:"title" validate:"required"`
	SubTopics []SubTopic `json:"sub_topics" validate:"dive"`
}

// CourseLMS is the structured course produced from uploaded material.
type CourseLMS struct {
	CourseID    int      `json:"course_id"`
	CourseTitle string   `json:"course_title" validate:"required"`
	Modules     []Module `json:"modules" validate:"required,min=1,dive"`
}

// CourseSummary is the listing form of a course.
type CourseSummary struct {
	CourseID    int    `json:"course_id"`
	CourseTitle string `json:"course_title"`
	Modules     int    `json:"modules"`
}

// Summary returns the listing form of c.
func (c *CourseLMS) Summary() CourseSummary {
	return CourseSummary{
		CourseID:    c.CourseID,
		CourseTitle: c.CourseTitle,
		Modules:     len(c.Modules),
	}
}

// ModuleByWeek returns the module for week, or nil.
func (c *CourseLMS) ModuleByWeek(week int) *Module {
	for i := range c.Modules {
		if c.Modules[i].Week == week {
			return &c.Modules[i]
		}
	}
	return nil
}

// Normalize fills module weeks and titles the way uploaded courses are
// expected to look: missing weeks take their 1-based position, missing
// titles become "Module N" / "Topic N".
func (c *CourseLMS) Normalize() {
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.Week == 0 {
			m.Week = i + 1
		}
		if m.Title == "" {
			m.Title = "Module " + strconv.Itoa(i+1)
		}
		for j := range m.SubTopics {
			if m.SubTopics[j].Title == "" {
				m.SubTopics[j].Title = "Topic " + strconv.Itoa(j+1)
			}
		}
	}
}
